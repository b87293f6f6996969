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

package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cjg3605-hash/tripradio-sub007/connectors/base"
)

var placeColumns = []string{"name", "lat", "lng", "address", "country", "region", "description",
	"categories", "tags", "significance", "established"}

func newMockSource(t *testing.T, options map[string]interface{}) (*Connector, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)

	c, err := NewWithDB(&base.AdapterConfig{
		Name:        "heritage_registry",
		Type:        "postgres",
		Options:     options,
		Reliability: 0.95,
	}, db, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return c, mock
}

func TestNewWithDBValidatesTable(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	for _, table := range []string{"places; DROP TABLE x", "1places", "a.b.c"} {
		_, err := NewWithDB(&base.AdapterConfig{Name: "x", Options: map[string]interface{}{"table": table}}, db, nil)
		assert.Error(t, err, table)
	}
	c, err := NewWithDB(&base.AdapterConfig{Name: "x", Options: map[string]interface{}{"table": "heritage.sites"}}, db, nil)
	require.NoError(t, err)
	assert.Equal(t, "heritage.sites", c.table)
	assert.Equal(t, "postgres", c.Type())
}

func TestFetchByName(t *testing.T) {
	c, mock := newMockSource(t, nil)

	rows := sqlmock.NewRows(placeColumns).
		AddRow("Gyeongbokgung Palace", 37.5796, 126.977, "161 Sajik-ro", "KR", "Seoul",
			"Main royal palace of the Joseon dynasty", []byte("{palace,cultural_heritage}"), []byte("{joseon}"), "national treasure", "1395").
		AddRow("Gyeongbokgung Station", nil, nil, nil, "KR", nil, nil, nil, nil, nil, nil)
	mock.ExpectQuery(`SELECT name, lat, lng, .* FROM places WHERE name ILIKE .* ORDER BY name LIMIT \$2`).
		WithArgs("경복궁", DefaultLimit).
		WillReturnRows(rows)

	data, err := c.Fetch(context.Background(), " 경복궁 ", nil)
	require.NoError(t, err)
	require.Len(t, data, 2)

	first := data[0]
	assert.Equal(t, "heritage_registry", first.SourceID)
	assert.Equal(t, 0.95, first.Reliability)
	assert.Equal(t, "Gyeongbokgung Palace", first.Place.Name)
	require.NotNil(t, first.Place.Coordinates)
	assert.Equal(t, base.Coordinates{Lat: 37.5796, Lng: 126.977}, *first.Place.Coordinates)
	assert.Equal(t, []string{"palace", "cultural_heritage"}, first.Place.Categories)
	assert.Equal(t, []string{"joseon"}, first.Place.Tags)
	assert.Equal(t, "1395", first.Place.Established)
	assert.False(t, first.RetrievedAt.IsZero())

	assert.Nil(t, data[1].Place.Coordinates)
	assert.Empty(t, data[1].Place.Address)
	assert.Equal(t, "KR", data[1].Place.Country)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFetchOrdersByDistance(t *testing.T) {
	c, mock := newMockSource(t, map[string]interface{}{"table": "sites", "limit": 3})

	mock.ExpectQuery(`FROM sites WHERE .* ORDER BY \(COALESCE\(lat, 0\) - \$2\)\^2 .* LIMIT \$4`).
		WithArgs("Bulguksa", 35.79, 129.33, 3).
		WillReturnRows(sqlmock.NewRows(placeColumns))

	data, err := c.Fetch(context.Background(), "Bulguksa", &base.Coordinates{Lat: 35.79, Lng: 129.33})
	require.NoError(t, err)
	assert.Empty(t, data)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFetchErrors(t *testing.T) {
	c, mock := newMockSource(t, nil)

	_, err := c.Fetch(context.Background(), "  ", nil)
	assert.Equal(t, base.CategoryDataFormat, base.Classify(err))

	mock.ExpectQuery("SELECT").WillReturnError(&pq.Error{Code: "28P01", Message: "password authentication failed"})
	_, err = c.Fetch(context.Background(), "x", nil)
	assert.Equal(t, base.CategoryAuthentication, base.Classify(err))

	mock.ExpectQuery("SELECT").WillReturnRows(
		sqlmock.NewRows(placeColumns).AddRow("x", "not a number", nil, nil, nil, nil, nil, nil, nil, nil, nil))
	_, err = c.Fetch(context.Background(), "x", nil)
	assert.Equal(t, base.CategoryDataFormat, base.Classify(err))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSearchNearby(t *testing.T) {
	c, mock := newMockSource(t, nil)
	center := base.Coordinates{Lat: 37.5663, Lng: 126.9779}

	rows := sqlmock.NewRows(placeColumns).
		AddRow("Gyeongbokgung", 37.5796, 126.977, nil, nil, nil, nil, nil, nil, nil, nil).
		AddRow("Deoksugung", 37.5658, 126.9751, nil, nil, nil, nil, nil, nil, nil, nil).
		AddRow("Corner of the box", 37.5843, 126.9979, nil, nil, nil, nil, nil, nil, nil, nil)
	mock.ExpectQuery(`FROM places WHERE lat BETWEEN \$1 AND \$2 AND lng BETWEEN \$3 AND \$4`).
		WillReturnRows(rows)

	data, err := c.SearchNearby(context.Background(), center, 2000)
	require.NoError(t, err)
	require.Len(t, data, 2, "box corners beyond the radius are dropped")
	assert.Equal(t, "Deoksugung", data[0].Place.Name)
	assert.Equal(t, "Gyeongbokgung", data[1].Place.Name)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClassify(t *testing.T) {
	tests := []struct {
		code pq.ErrorCode
		want base.ErrorCategory
	}{
		{"28000", base.CategoryAuthentication},
		{"08006", base.CategoryNetwork},
		{"57P03", base.CategoryServiceUnavailable},
		{"53300", base.CategoryServiceUnavailable},
		{"42P01", base.CategoryDataFormat},
		{"22P02", base.CategoryDataFormat},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.want, classify(&pq.Error{Code: tt.code}))
		})
	}
	assert.Equal(t, base.CategoryNetwork, classify(errors.New("connection refused")))
}

func TestHealthCheckAndClose(t *testing.T) {
	c, mock := newMockSource(t, nil)

	mock.ExpectPing()
	status, err := c.HealthCheck(context.Background())
	require.NoError(t, err)
	assert.True(t, status.Healthy)
	assert.Equal(t, "places", status.Details["table"])

	mock.ExpectPing().WillReturnError(errors.New("connection reset by peer"))
	status, err = c.HealthCheck(context.Background())
	require.NoError(t, err)
	assert.False(t, status.Healthy)
	assert.Contains(t, status.Error, "connection reset")

	mock.ExpectClose()
	require.NoError(t, c.Close())
	assert.NoError(t, mock.ExpectationsWereMet())
}
