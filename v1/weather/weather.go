// Package weather holds the weather payload returned by the client and the
// decoder for OpenWeatherMap "current weather" responses.
package weather

import (
	"encoding/json"
	"errors"

	warperrors "github.com/mirkobrombin/warp-weather/v1/errors"
)

// Conditions is the headline weather group, e.g. "Clouds" / "broken clouds".
type Conditions struct {
	Main        string `json:"main"`
	Description string `json:"description"`
}

// Temperature in the unit system the client was configured with.
type Temperature struct {
	Temp      float64 `json:"temp"`
	FeelsLike float64 `json:"feels_like"`
}

type Wind struct {
	Speed float64 `json:"speed"`
}

// Sys carries sunrise and sunset as Unix seconds.
type Sys struct {
	Sunrise int64 `json:"sunrise"`
	Sunset  int64 `json:"sunset"`
}

// Data is the weather record for a single city.
type Data struct {
	Weather     Conditions  `json:"weather"`
	Temperature Temperature `json:"temperature"`
	Visibility  int         `json:"visibility"`
	Wind        Wind        `json:"wind"`
	// Datetime is the observation time in Unix seconds.
	Datetime int64 `json:"datetime"`
	Sys      Sys   `json:"sys"`
	// Timezone is the shift from UTC in seconds.
	Timezone int    `json:"timezone"`
	Name     string `json:"name"`
}

// UnknownName is used when the response does not name the city.
const UnknownName = "Unknown"

// apiResponse mirrors the subset of the OpenWeatherMap payload we read.
// Pointers distinguish missing fields from zero values.
type apiResponse struct {
	Weather []struct {
		Main        *string `json:"main"`
		Description *string `json:"description"`
	} `json:"weather"`
	Main *struct {
		Temp      *float64 `json:"temp"`
		FeelsLike *float64 `json:"feels_like"`
	} `json:"main"`
	Wind *struct {
		Speed *float64 `json:"speed"`
	} `json:"wind"`
	Sys *struct {
		Sunrise *int64 `json:"sunrise"`
		Sunset  *int64 `json:"sunset"`
	} `json:"sys"`
	Visibility *int    `json:"visibility"`
	Dt         *int64  `json:"dt"`
	Timezone   *int    `json:"timezone"`
	Name       *string `json:"name"`
}

var (
	errNoConditions = errors.New("missing weather conditions")
	errNoMain       = errors.New("missing main.temp or main.feels_like")
	errNoSys        = errors.New("missing sys.sunrise or sys.sunset")
)

// Decode parses an OpenWeatherMap current weather response for city.
//
// The first weather entry, main.temp, main.feels_like and the sys sunrise and
// sunset are required. Wind speed, visibility, dt and timezone default to
// zero and a missing name to UnknownName. Every failure is a KindParse error.
func Decode(city string, body []byte) (Data, error) {
	const op = "weather.Decode"
	var r apiResponse
	if err := json.Unmarshal(body, &r); err != nil {
		return Data{}, warperrors.Parse(op, city, err)
	}
	if len(r.Weather) == 0 || r.Weather[0].Main == nil || r.Weather[0].Description == nil {
		return Data{}, warperrors.Parse(op, city, errNoConditions)
	}
	if r.Main == nil || r.Main.Temp == nil || r.Main.FeelsLike == nil {
		return Data{}, warperrors.Parse(op, city, errNoMain)
	}
	if r.Sys == nil || r.Sys.Sunrise == nil || r.Sys.Sunset == nil {
		return Data{}, warperrors.Parse(op, city, errNoSys)
	}

	d := Data{
		Weather: Conditions{
			Main:        *r.Weather[0].Main,
			Description: *r.Weather[0].Description,
		},
		Temperature: Temperature{Temp: *r.Main.Temp, FeelsLike: *r.Main.FeelsLike},
		Sys:         Sys{Sunrise: *r.Sys.Sunrise, Sunset: *r.Sys.Sunset},
		Name:        UnknownName,
	}
	if r.Wind != nil && r.Wind.Speed != nil {
		d.Wind.Speed = *r.Wind.Speed
	}
	if r.Visibility != nil {
		d.Visibility = *r.Visibility
	}
	if r.Dt != nil {
		d.Datetime = *r.Dt
	}
	if r.Timezone != nil {
		d.Timezone = *r.Timezone
	}
	if r.Name != nil {
		d.Name = *r.Name
	}
	return d, nil
}

// Encode renders d in the client's own JSON shape.
func Encode(d Data) ([]byte, error) {
	return json.Marshal(d)
}
