package bluetooth

import "ble-sensors.klederson.com/internal/config"

// LookupManufacturer returns a human-readable name for a Bluetooth SIG company ID.
// Only vendors commonly seen next to environmental sensors are listed; the
// scanner uses it to label advertisers it ignores.
// See: https://www.bluetooth.com/specifications/assigned-numbers/
func LookupManufacturer(companyID uint16) string {
	return companyNames[companyID]
}

var companyNames = map[uint16]string{
	config.RuuviCompanyID: "Ruuvi",

	// Other sensor and smart-home vendors
	0x0822: "Tuya/Govee",
	0x0310: "Xiaomi",
	0x015D: "Espressif",
	0x0059: "Nordic",
	0x000D: "Texas Inst.",
	0x0958: "IKEA",
	0x0473: "Withings",
	0x048F: "Wyze",
	0x0362: "Yeelight",

	// Phones and wearables that flood the air
	0x004C: "Apple",
	0x0006: "Microsoft",
	0x00E0: "Google",
	0x0075: "Samsung",
	0x0157: "Huawei",
	0x038F: "Garmin",
	0x03DA: "Fitbit",
	0x0171: "Amazon",
	0x02FF: "Tile",
}
