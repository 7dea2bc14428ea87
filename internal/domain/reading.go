package domain

// Reading is one row of a handwritten solar production log as extracted
// from an image.
type Reading struct {
	Date  string   `json:"date"            validate:"required,datetime=2006-01-02"`
	Time  *string  `json:"time,omitempty"  validate:"omitempty,datetime=15:04"`
	M1    float64  `json:"m1"              validate:"gte=0"`
	M2    *float64 `json:"m2,omitempty"    validate:"omitempty,gte=0"`
	Notes *string  `json:"notes,omitempty" validate:"omitempty,max=500"`
}
