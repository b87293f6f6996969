// Copyright 2025 AxonFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package smartcache

import (
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// Codec compresses cache payloads
type Codec interface {
	Name() string
	Encode(src []byte) ([]byte, error)
	Decode(src []byte) ([]byte, error)
}

// ZstdCodec compresses payloads with zstd
type ZstdCodec struct {
	once    sync.Once
	enc     *zstd.Encoder
	dec     *zstd.Decoder
	initErr error
}

// NewZstdCodec creates a zstd codec. Encoder and decoder are created lazily
// and are safe for concurrent use through EncodeAll/DecodeAll.
func NewZstdCodec() *ZstdCodec {
	return &ZstdCodec{}
}

func (z *ZstdCodec) init() error {
	z.once.Do(func() {
		z.enc, z.initErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if z.initErr != nil {
			return
		}
		z.dec, z.initErr = zstd.NewReader(nil)
	})
	return z.initErr
}

// Name implements Codec
func (z *ZstdCodec) Name() string { return "zstd" }

// Encode implements Codec
func (z *ZstdCodec) Encode(src []byte) ([]byte, error) {
	if err := z.init(); err != nil {
		return nil, fmt.Errorf("zstd init: %w", err)
	}
	return z.enc.EncodeAll(src, make([]byte, 0, len(src)/2)), nil
}

// Decode implements Codec
func (z *ZstdCodec) Decode(src []byte) ([]byte, error) {
	if err := z.init(); err != nil {
		return nil, fmt.Errorf("zstd init: %w", err)
	}
	out, err := z.dec.DecodeAll(src, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decode: %w", err)
	}
	return out, nil
}

// NoopCodec stores payloads as they are
type NoopCodec struct{}

func (NoopCodec) Name() string                      { return "none" }
func (NoopCodec) Encode(src []byte) ([]byte, error) { return src, nil }
func (NoopCodec) Decode(src []byte) ([]byte, error) { return src, nil }
