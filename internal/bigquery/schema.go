// Package bigquery provisions the reviews table and streams transformed reviews into it.
package bigquery

import (
	bq "cloud.google.com/go/bigquery"
)

// reviewColumns lists the reviews table columns in table order
var reviewColumns = []struct {
	name  string
	ftype bq.FieldType
}{
	{"id", bq.IntegerFieldType},
	{"date_review", bq.StringFieldType},
	{"day_review", bq.IntegerFieldType},
	{"month_review", bq.StringFieldType},
	{"month_review_num", bq.IntegerFieldType},
	{"year_review", bq.IntegerFieldType},
	{"verified", bq.StringFieldType},
	{"name", bq.StringFieldType},
	{"month_fly", bq.StringFieldType},
	{"month_fly_num", bq.FloatFieldType},
	{"year_fly", bq.FloatFieldType},
	{"month_year_fly", bq.StringFieldType},
	{"country", bq.StringFieldType},
	{"aircraft", bq.StringFieldType},
	{"aircraft_1", bq.StringFieldType},
	{"aircraft_2", bq.StringFieldType},
	{"type", bq.StringFieldType},
	{"seat_type", bq.StringFieldType},
	{"route", bq.StringFieldType},
	{"origin", bq.StringFieldType},
	{"destination", bq.StringFieldType},
	{"transit", bq.StringFieldType},
	{"seat_comfort", bq.FloatFieldType},
	{"cabin_serv", bq.FloatFieldType},
	{"food", bq.FloatFieldType},
	{"ground_service", bq.FloatFieldType},
	{"wifi", bq.FloatFieldType},
	{"money_value", bq.IntegerFieldType},
	{"score", bq.FloatFieldType},
	{"experience", bq.StringFieldType},
	{"recommended", bq.StringFieldType},
	{"review", bq.StringFieldType},
}

// ReviewSchema returns the schema of the reviews table. All columns are nullable.
func ReviewSchema() bq.Schema {
	schema := make(bq.Schema, 0, len(reviewColumns))
	for _, c := range reviewColumns {
		schema = append(schema, &bq.FieldSchema{Name: c.name, Type: c.ftype})
	}
	return schema
}
