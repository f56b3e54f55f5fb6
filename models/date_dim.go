package models

import "time"

// DateDim — строка календарного измерения. DateKey имеет вид YYYYMMDD.
type DateDim struct {
	DateKey     int       `json:"date_key"`
	FullDate    time.Time `json:"full_date"`
	Year        int       `json:"year"`
	Month       int       `json:"month"`
	Day         int       `json:"day"`
	Quarter     int       `json:"quarter"`
	DayOfWeek   int       `json:"day_of_week"` // ISO: понедельник = 1
	DayName     string    `json:"day_name"`
	MonthName   string    `json:"month_name"`
	IsWeekend   bool      `json:"is_weekend"`
	ISOWeek     int       `json:"iso_week"`
	YearMonth   string    `json:"year_month"`   // 2024-03
	YearQuarter string    `json:"year_quarter"` // 2024-Q1
}
