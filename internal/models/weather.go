package models

// City is a named point tracked for weather. Name is unique and matched exactly.
type City struct {
	Name       string       `json:"name"`
	Latitude   float64      `json:"latitude"`
	Longitude  float64      `json:"longitude"`
	Conditions []Conditions `json:"conditions,omitempty"`
}

// Conditions is one stored observation for a city. Time keeps the provider's
// native format (e.g. "2024-01-02T13:00").
type Conditions struct {
	Temperature float64 `json:"temperature"`
	Time        string  `json:"time"`
}

// Observation is the current reading decoded from the weather provider,
// not yet attached to a city.
type Observation struct {
	Temperature float64 `json:"temperature"`
	Time        string  `json:"time"`
}

// Conditions converts the observation into a storable Conditions value.
func (o Observation) Conditions() Conditions {
	return Conditions{Temperature: o.Temperature, Time: o.Time}
}
