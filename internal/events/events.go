package events

// QuoteSubmittedEvent is published to quote.submitted.
type QuoteSubmittedEvent struct {
	QuoteID       string `json:"quote_id"`
	CreatedByUser string `json:"created_by_user_id"`
	VehicleClass  string `json:"vehicle_class"`
	PickupAddress string `json:"pickup_address"`
	SubmittedAt   string `json:"submitted_at"`
}

// QuoteRespondedEvent is published to quote.responded.
type QuoteRespondedEvent struct {
	QuoteID        string  `json:"quote_id"`
	RespondedBy    string  `json:"responded_by_user_id"`
	EstimatedPrice float64 `json:"estimated_price"`
	PickupTime     string  `json:"estimated_pickup_time"`
}

// BookingCreatedEvent is published to booking.created when an accepted quote
// spawns a booking. Downstream assignment and tracking consume this.
type BookingCreatedEvent struct {
	BookingID     string `json:"booking_id"`
	SourceQuoteID string `json:"source_quote_id"`
	CreatedByUser string `json:"created_by_user_id"`
	PickupTime    string `json:"pickup_time"`
}

// DriverAssignedEvent arrives on driver.assigned from the downstream
// assignment subsystem.
type DriverAssignedEvent struct {
	BookingID string `json:"booking_id"`
	DriverUID string `json:"driver_uid"`
}

// DriverLocationEvent is published to driver.location on every ingested
// position report.
type DriverLocationEvent struct {
	RideID    string  `json:"ride_id"`
	DriverUID string  `json:"driver_uid"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Heading   float64 `json:"heading"`
	Speed     float64 `json:"speed"`
	Timestamp string  `json:"timestamp_utc"`
}
