package contracts

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Reservation pairs a product with the stock reservation held for it.
type Reservation struct {
	ProductID     string `json:"product_id"`
	ReservationID string `json:"reservation_id"`
}

// EncodeReservations renders the pairs as a JSON object of
// product id to reservation id.
func EncodeReservations(rs []Reservation) (string, error) {
	m := make(map[string]string, len(rs))
	for _, r := range rs {
		m[r.ProductID] = r.ReservationID
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// DecodeReservations parses a reservation map and returns the pairs ordered
// by product id. An empty string decodes to no pairs.
func DecodeReservations(s string) ([]Reservation, error) {
	if s == "" {
		return nil, nil
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, fmt.Errorf("decode reservation map: %w", err)
	}
	rs := make([]Reservation, 0, len(m))
	for productID, reservationID := range m {
		rs = append(rs, Reservation{ProductID: productID, ReservationID: reservationID})
	}
	sort.Slice(rs, func(i, j int) bool { return rs[i].ProductID < rs[j].ProductID })
	return rs, nil
}
