package checkout

import (
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

const earthRadiusKM = 6371.0

type LatLng struct {
	Lat float64
	Lng float64
}

// Geocoder resolves a free-form delivery address to coordinates.
type Geocoder interface {
	Locate(address string) LatLng
}

type town struct {
	name string
	at   LatLng
}

// Malmesbury is where the sellers ship from; unmatched addresses resolve here.
var Malmesbury = LatLng{Lat: -33.4608, Lng: 18.7271}

// First match wins, so keep longer names ahead of names they contain.
var towns = []town{
	{"cape town", LatLng{-33.9249, 18.4241}},
	{"stellenbosch", LatLng{-33.9321, 18.8602}},
	{"paarl", LatLng{-33.7342, 18.9621}},
	{"wellington", LatLng{-33.6396, 19.0112}},
	{"darling", LatLng{-33.3759, 18.3809}},
	{"moorreesburg", LatLng{-33.1544, 18.6610}},
	{"port elizabeth", LatLng{-33.9608, 25.6022}},
	{"bloemfontein", LatLng{-29.0852, 26.1596}},
	{"johannesburg", LatLng{-26.2041, 28.0473}},
	{"pretoria", LatLng{-25.7479, 28.2293}},
	{"durban", LatLng{-29.8587, 31.0218}},
	{"malmesbury", Malmesbury},
}

// TownGeocoder matches a fixed list of town names as case-insensitive
// substrings of the address. Stand-in for a real geocoding client.
type TownGeocoder struct{}

func (TownGeocoder) Locate(address string) LatLng {
	a := strings.ToLower(address)
	for _, t := range towns {
		if strings.Contains(a, t.name) {
			return t.at
		}
	}
	return Malmesbury
}

// Distance is the great-circle distance in km (haversine).
func Distance(a, b LatLng) float64 {
	lat1, lat2 := radians(a.Lat), radians(b.Lat)
	dLat := lat2 - lat1
	dLng := radians(b.Lng - a.Lng)

	sLat := math.Sin(dLat / 2)
	sLng := math.Sin(dLng / 2)
	h := sLat*sLat + math.Cos(lat1)*math.Cos(lat2)*sLng*sLng
	return 2 * earthRadiusKM * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

func radians(deg float64) float64 { return deg * math.Pi / 180 }

// Courier prices delivery from Origin to the geocoded address at RatePerKM.
type Courier struct {
	Geocoder  Geocoder
	Origin    LatLng
	RatePerKM decimal.Decimal
}

func NewCourier(rate decimal.Decimal) Courier {
	return Courier{Geocoder: TownGeocoder{}, Origin: Malmesbury, RatePerKM: rate}
}

// Cost returns the courier fee in rand, rounded to cents.
func (c Courier) Cost(address string) decimal.Decimal {
	geo := c.Geocoder
	if geo == nil {
		geo = TownGeocoder{}
	}
	km := Distance(c.Origin, geo.Locate(address))
	return decimal.NewFromFloat(km).Mul(c.RatePerKM).Round(2)
}
