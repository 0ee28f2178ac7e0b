// Command weather queries the OpenWeatherMap API through the warp-weather
// client, either once per city (get) or continuously (poll).
package main

func main() {
	Execute()
}
