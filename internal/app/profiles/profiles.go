package profiles

import (
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"

	"github.com/yellowbus/route-tracker/internal/domain"
	"github.com/yellowbus/route-tracker/internal/ports/out/docstore"
)

// Document field names shared by both collections.
const (
	FieldFirstName   = "firstName"
	FieldLastName    = "lastName"
	FieldRoute       = "route"
	FieldBusNumber   = "busNumber"
	FieldPhoneNumber = "phoneNumber"
	FieldStartTime   = "startTime"
	FieldStopTime    = "stopTime"
)

type driverDoc struct {
	FirstName   string `mapstructure:"firstName"`
	LastName    string `mapstructure:"lastName"`
	Route       string `mapstructure:"route"`
	BusNumber   string `mapstructure:"busNumber"`
	PhoneNumber string `mapstructure:"phoneNumber"`
	Number      string `mapstructure:"number"`
}

type riderDoc struct {
	FirstName   string `mapstructure:"firstName"`
	LastName    string `mapstructure:"lastName"`
	Route       string `mapstructure:"route"`
	PhoneNumber string `mapstructure:"phoneNumber"`
	Number      string `mapstructure:"number"`
}

// DecodeDriver maps a drivers document to a profile. Numeric fields such as bus numbers
// are accepted and rendered as strings.
func DecodeDriver(id domain.IdentityID, rec docstore.Record) (domain.DriverProfile, error) {
	var d driverDoc
	if err := decode(rec, &d); err != nil {
		return domain.DriverProfile{}, fmt.Errorf("decode driver %s: %w", id, err)
	}
	return domain.DriverProfile{
		ID:          id,
		FirstName:   domain.NormalizeHumanName(d.FirstName),
		LastName:    domain.NormalizeHumanName(d.LastName),
		RouteID:     domain.RouteID(strings.TrimSpace(d.Route)),
		BusNumber:   strings.TrimSpace(d.BusNumber),
		PhoneNumber: phone(d.PhoneNumber, d.Number),
	}, nil
}

// DecodeRider maps a riders document to a profile. Documents written by older clients
// carry the phone under "number".
func DecodeRider(id domain.IdentityID, rec docstore.Record) (domain.RiderProfile, error) {
	var r riderDoc
	if err := decode(rec, &r); err != nil {
		return domain.RiderProfile{}, fmt.Errorf("decode rider %s: %w", id, err)
	}
	return domain.RiderProfile{
		ID:          id,
		FirstName:   domain.NormalizeHumanName(r.FirstName),
		LastName:    domain.NormalizeHumanName(r.LastName),
		RouteID:     domain.RouteID(strings.TrimSpace(r.Route)),
		PhoneNumber: phone(r.PhoneNumber, r.Number),
	}, nil
}

func EncodeDriver(p domain.DriverProfile) docstore.Record {
	return docstore.Record{
		FieldFirstName:   p.FirstName,
		FieldLastName:    p.LastName,
		FieldRoute:       string(p.RouteID),
		FieldBusNumber:   p.BusNumber,
		FieldPhoneNumber: p.PhoneNumber,
	}
}

func EncodeRider(p domain.RiderProfile) docstore.Record {
	return docstore.Record{
		FieldFirstName:   p.FirstName,
		FieldLastName:    p.LastName,
		FieldRoute:       string(p.RouteID),
		FieldPhoneNumber: p.PhoneNumber,
	}
}

func decode(rec docstore.Record, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(map[string]any(rec))
}

func phone(primary, legacy string) string {
	if p := strings.TrimSpace(primary); p != "" {
		return p
	}
	return strings.TrimSpace(legacy)
}
