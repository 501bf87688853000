// Package geo содержит геокодирование адресов и расчёт срока доставки.
package geo

import (
	"context"
	"fmt"
	"strings"
)

// Point представляет географические координаты.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Geocoder разрешает текстовый адрес в координаты. Разрешение выполняется
// по принципу best-effort: промах возвращает (nil, nil), а не ошибку.
type Geocoder interface {
	Resolve(ctx context.Context, address string) (*Point, error)
}

// Координаты магазина: Jaipur, Rajasthan.
var shopPoint = Point{Lat: 26.9124, Lng: 75.7873}

// cityPoints содержит приближённые координаты крупных городов.
var cityPoints = map[string]Point{
	"jaipur":    {Lat: 26.9124, Lng: 75.7873},
	"delhi":     {Lat: 28.6139, Lng: 77.2090},
	"mumbai":    {Lat: 19.0760, Lng: 72.8777},
	"bangalore": {Lat: 12.9716, Lng: 77.5946},
	"kolkata":   {Lat: 22.5726, Lng: 88.3639},
	"chennai":   {Lat: 13.0827, Lng: 80.2707},
	"hyderabad": {Lat: 17.3850, Lng: 78.4867},
	"pune":      {Lat: 18.5204, Lng: 73.8567},
	"ahmedabad": {Lat: 23.0225, Lng: 72.5714},
	"surat":     {Lat: 21.1702, Lng: 72.8311},
}

// StaticResolver — детерминированный геокодер по таблице городов.
// Используется, когда внешний геокодер не сконфигурирован.
type StaticResolver struct{}

// NewStaticResolver создаёт геокодер по встроенной таблице городов.
func NewStaticResolver() *StaticResolver {
	return &StaticResolver{}
}

// Resolve ищет известный город в тексте адреса. Если город не найден,
// возвращаются координаты магазина; пустой адрес даёт промах.
func (s *StaticResolver) Resolve(_ context.Context, address string) (*Point, error) {
	if address == "" {
		return nil, nil
	}

	lower := strings.ToLower(address)
	for city, p := range cityPoints {
		if strings.Contains(lower, city) {
			point := p
			return &point, nil
		}
	}

	point := shopPoint
	return &point, nil
}

// MapURL строит ссылку на карту по координатам.
func MapURL(p Point) string {
	return fmt.Sprintf("https://www.google.com/maps?q=%v,%v", p.Lat, p.Lng)
}
