package bwe

import "strings"

// DefaultInitialBitrate is the estimate used when the network type is
// unknown or has no configured value, in bits per second.
const DefaultInitialBitrate int64 = 1_000_000

// Default initial estimates per country group, in bits per second. Group 0
// holds the fastest countries.
var (
	initialBitrateWifi = [5]int64{5_700_000, 3_500_000, 2_000_000, 1_100_000, 470_000}
	initialBitrate2G   = [5]int64{200_000, 148_000, 132_000, 115_000, 95_000}
	initialBitrate3G   = [5]int64{2_200_000, 1_300_000, 970_000, 810_000, 490_000}
	initialBitrate4G   = [5]int64{5_300_000, 3_200_000, 2_000_000, 1_400_000, 690_000}
)

// medianCountryGroup is assumed for countries missing from countryGroups.
var medianCountryGroup = [4]int{2, 2, 2, 2}

// InitialBitrateEstimates holds the estimate a meter reports before it has
// measured anything, per network type. It is not safe for concurrent use;
// BandwidthMeter guards its copy with its own lock.
type InitialBitrateEstimates struct {
	estimates map[NetworkType]int64
}

// NewInitialBitrateEstimates returns the defaults for the country with the
// given ISO 3166-1 alpha-2 code. An empty or unknown code selects the median
// group. Ethernet is seeded with the Wifi value.
func NewInitialBitrateEstimates(countryCode string) *InitialBitrateEstimates {
	group, ok := countryGroups[strings.ToUpper(countryCode)]
	if !ok {
		group = medianCountryGroup
	}
	return &InitialBitrateEstimates{
		estimates: map[NetworkType]int64{
			NetworkUnknown:    DefaultInitialBitrate,
			NetworkWifi:       initialBitrateWifi[group[0]],
			NetworkCellular2G: initialBitrate2G[group[1]],
			NetworkCellular3G: initialBitrate3G[group[2]],
			NetworkCellular4G: initialBitrate4G[group[3]],
			NetworkEthernet:   initialBitrateWifi[group[0]],
		},
	}
}

// SetAll overrides every configured network type with bitrate.
func (e *InitialBitrateEstimates) SetAll(bitrate int64) {
	for t := range e.estimates {
		e.estimates[t] = bitrate
	}
}

// Set overrides the estimate for one network type.
func (e *InitialBitrateEstimates) Set(networkType NetworkType, bitrate int64) {
	e.estimates[networkType] = bitrate
}

// ForNetworkType returns the estimate for networkType, falling back to the
// unknown-network estimate and then to DefaultInitialBitrate.
func (e *InitialBitrateEstimates) ForNetworkType(networkType NetworkType) int64 {
	if v, ok := e.estimates[networkType]; ok {
		return v
	}
	if v, ok := e.estimates[NetworkUnknown]; ok {
		return v
	}
	return DefaultInitialBitrate
}

// countryGroups maps ISO 3166-1 alpha-2 codes to group indices for
// [Wifi, 2G, 3G, 4G].
var countryGroups = map[string][4]int{
	"AD": {1, 1, 0, 0}, "AE": {1, 4, 4, 4}, "AF": {4, 4, 3, 3}, "AG": {3, 1, 0, 1},
	"AI": {1, 0, 0, 3}, "AL": {1, 2, 0, 1}, "AM": {2, 2, 2, 2}, "AO": {3, 4, 2, 0},
	"AR": {2, 3, 2, 2}, "AS": {3, 0, 4, 2}, "AT": {0, 3, 0, 0}, "AU": {0, 3, 0, 1},
	"AW": {1, 1, 0, 3}, "AX": {0, 3, 0, 2}, "AZ": {3, 3, 3, 3}, "BA": {1, 1, 0, 1},
	"BB": {0, 2, 0, 0}, "BD": {2, 1, 3, 3}, "BE": {0, 0, 0, 1}, "BF": {4, 4, 4, 1},
	"BG": {0, 1, 0, 0}, "BH": {2, 1, 3, 4}, "BI": {4, 4, 4, 4}, "BJ": {4, 4, 4, 4},
	"BL": {1, 0, 2, 2}, "BM": {1, 2, 0, 0}, "BN": {4, 1, 3, 2}, "BO": {1, 2, 3, 2},
	"BQ": {1, 1, 2, 4}, "BR": {2, 3, 3, 2}, "BS": {2, 1, 1, 4}, "BT": {3, 0, 3, 1},
	"BW": {4, 4, 1, 2}, "BY": {0, 1, 1, 2}, "BZ": {2, 2, 2, 1}, "CA": {0, 3, 1, 3},
	"CD": {4, 4, 2, 2}, "CF": {4, 4, 3, 0}, "CG": {3, 4, 2, 4}, "CH": {0, 0, 1, 0},
	"CI": {3, 4, 3, 3}, "CK": {2, 4, 1, 0}, "CL": {1, 2, 2, 3}, "CM": {3, 4, 3, 1},
	"CN": {2, 0, 2, 3}, "CO": {2, 3, 2, 2}, "CR": {2, 3, 4, 4}, "CU": {4, 4, 3, 1},
	"CV": {2, 3, 1, 2}, "CW": {1, 1, 0, 0}, "CY": {1, 1, 0, 0}, "CZ": {0, 1, 0, 0},
	"DE": {0, 1, 1, 3}, "DJ": {4, 3, 4, 1}, "DK": {0, 0, 1, 1}, "DM": {1, 0, 1, 3},
	"DO": {3, 3, 4, 4}, "DZ": {3, 3, 4, 4}, "EC": {2, 3, 4, 3}, "EE": {0, 1, 0, 0},
	"EG": {3, 4, 2, 2}, "EH": {2, 0, 3, 3}, "ER": {4, 2, 2, 0}, "ES": {0, 1, 1, 1},
	"ET": {4, 4, 4, 0}, "FI": {0, 0, 1, 0}, "FJ": {3, 0, 3, 3}, "FK": {3, 4, 2, 2},
	"FM": {4, 0, 4, 0}, "FO": {0, 0, 0, 0}, "FR": {1, 0, 3, 1}, "GA": {3, 3, 2, 2},
	"GB": {0, 1, 3, 3}, "GD": {2, 0, 4, 4}, "GE": {1, 1, 1, 4}, "GF": {2, 3, 4, 4},
	"GG": {0, 1, 0, 0}, "GH": {3, 3, 2, 2}, "GI": {0, 0, 0, 1}, "GL": {2, 2, 0, 2},
	"GM": {4, 4, 3, 4}, "GN": {3, 4, 4, 2}, "GP": {2, 1, 1, 4}, "GQ": {4, 4, 3, 0},
	"GR": {1, 1, 0, 2}, "GT": {3, 3, 3, 3}, "GU": {1, 2, 4, 4}, "GW": {4, 4, 4, 1},
	"GY": {3, 2, 1, 1}, "HK": {0, 2, 3, 4}, "HN": {3, 2, 3, 2}, "HR": {1, 1, 0, 1},
	"HT": {4, 4, 4, 4}, "HU": {0, 1, 0, 0}, "ID": {3, 2, 3, 4}, "IE": {1, 0, 1, 1},
	"IL": {0, 0, 2, 3}, "IM": {0, 0, 0, 1}, "IN": {2, 2, 4, 4}, "IO": {4, 2, 2, 2},
	"IQ": {3, 3, 4, 2}, "IR": {3, 0, 2, 2}, "IS": {0, 1, 0, 0}, "IT": {1, 0, 1, 2},
	"JE": {1, 0, 0, 1}, "JM": {2, 3, 3, 1}, "JO": {1, 2, 1, 2}, "JP": {0, 2, 1, 1},
	"KE": {3, 4, 4, 3}, "KG": {1, 1, 2, 2}, "KH": {1, 0, 4, 4}, "KI": {4, 4, 4, 4},
	"KM": {4, 3, 2, 3}, "KN": {1, 0, 1, 3}, "KP": {4, 2, 4, 2}, "KR": {0, 1, 1, 1},
	"KW": {2, 3, 1, 1}, "KY": {1, 1, 0, 1}, "KZ": {1, 2, 2, 3}, "LA": {2, 2, 1, 1},
	"LB": {3, 2, 0, 0}, "LC": {1, 1, 0, 0}, "LI": {0, 0, 2, 4}, "LK": {2, 1, 2, 3},
	"LR": {3, 4, 3, 1}, "LS": {3, 3, 2, 0}, "LT": {0, 0, 0, 0}, "LU": {0, 0, 0, 0},
	"LV": {0, 0, 0, 0}, "LY": {4, 4, 4, 4}, "MA": {2, 1, 2, 1}, "MC": {0, 0, 0, 1},
	"MD": {1, 1, 0, 0}, "ME": {1, 2, 1, 2}, "MF": {1, 1, 1, 1}, "MG": {3, 4, 2, 2},
	"MH": {4, 0, 2, 4}, "MK": {1, 0, 0, 0}, "ML": {4, 4, 2, 0}, "MM": {3, 3, 1, 2},
	"MN": {2, 3, 2, 3}, "MO": {0, 0, 4, 4}, "MP": {0, 2, 4, 4}, "MQ": {2, 1, 1, 4},
	"MR": {4, 2, 4, 2}, "MS": {1, 2, 3, 3}, "MT": {0, 1, 0, 0}, "MU": {2, 2, 3, 4},
	"MV": {4, 3, 0, 2}, "MW": {3, 2, 1, 0}, "MX": {2, 4, 4, 3}, "MY": {2, 2, 3, 3},
	"MZ": {3, 3, 2, 1}, "NA": {3, 3, 2, 1}, "NC": {2, 0, 3, 3}, "NE": {4, 4, 4, 3},
	"NF": {1, 2, 2, 2}, "NG": {3, 4, 3, 1}, "NI": {3, 3, 4, 4}, "NL": {0, 2, 3, 3},
	"NO": {0, 1, 1, 0}, "NP": {2, 2, 2, 2}, "NR": {4, 0, 3, 1}, "NZ": {0, 0, 1, 2},
	"OM": {3, 2, 1, 3}, "PA": {1, 3, 3, 4}, "PE": {2, 3, 4, 4}, "PF": {2, 2, 0, 1},
	"PG": {4, 3, 3, 1}, "PH": {3, 0, 3, 4}, "PK": {3, 3, 3, 3}, "PL": {1, 0, 1, 3},
	"PM": {0, 2, 2, 0}, "PR": {1, 2, 3, 3}, "PS": {3, 3, 2, 4}, "PT": {1, 1, 0, 0},
	"PW": {2, 1, 2, 0}, "PY": {2, 0, 2, 3}, "QA": {2, 2, 1, 2}, "RE": {1, 0, 2, 2},
	"RO": {0, 1, 1, 2}, "RS": {1, 2, 0, 0}, "RU": {0, 1, 1, 1}, "RW": {4, 4, 2, 4},
	"SA": {2, 2, 2, 1}, "SB": {4, 4, 3, 0}, "SC": {4, 2, 0, 1}, "SD": {4, 4, 4, 3},
	"SE": {0, 1, 0, 0}, "SG": {0, 2, 3, 3}, "SH": {4, 4, 2, 3}, "SI": {0, 0, 0, 0},
	"SJ": {2, 0, 2, 4}, "SK": {0, 1, 0, 0}, "SL": {4, 3, 3, 3}, "SM": {0, 0, 2, 4},
	"SN": {3, 4, 4, 2}, "SO": {3, 4, 4, 3}, "SR": {2, 2, 1, 0}, "SS": {4, 3, 4, 3},
	"ST": {3, 4, 2, 2}, "SV": {2, 3, 3, 4}, "SX": {2, 4, 1, 0}, "SY": {4, 3, 2, 1},
	"SZ": {4, 4, 3, 4}, "TC": {1, 2, 1, 1}, "TD": {4, 4, 4, 2}, "TG": {3, 3, 1, 0},
	"TH": {1, 3, 4, 4}, "TJ": {4, 4, 4, 4}, "TL": {4, 2, 4, 4}, "TM": {4, 1, 2, 2},
	"TN": {2, 2, 1, 2}, "TO": {3, 3, 3, 1}, "TR": {2, 2, 1, 2}, "TT": {1, 3, 1, 2},
	"TV": {4, 2, 2, 4}, "TW": {0, 0, 0, 0}, "TZ": {3, 3, 4, 3}, "UA": {0, 2, 1, 2},
	"UG": {4, 3, 3, 2}, "US": {1, 1, 3, 3}, "UY": {2, 2, 1, 1}, "UZ": {2, 2, 2, 2},
	"VA": {1, 2, 4, 2}, "VC": {2, 0, 2, 4}, "VE": {4, 4, 4, 3}, "VG": {3, 0, 1, 3},
	"VI": {1, 1, 4, 4}, "VN": {0, 2, 4, 4}, "VU": {4, 1, 3, 1}, "WS": {3, 3, 3, 2},
	"XK": {1, 2, 1, 0}, "YE": {4, 4, 4, 3}, "YT": {2, 2, 2, 3}, "ZA": {2, 4, 2, 2},
	"ZM": {3, 2, 2, 1}, "ZW": {3, 3, 2, 1},
}
