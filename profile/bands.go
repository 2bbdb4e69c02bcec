package profile

import "fmt"

// bandTable holds the conventional dial frequency in MHz per mode and band.
// Band keys are meters without unit; "81" and "61" are the alternative
// WSPR frequencies on 80m and 60m.
var bandTable = map[string]map[string]float64{
	"FT8": {"160": 1.840, "80": 3.573, "60": 5.357, "40": 7.074, "30": 10.136, "20": 14.074, "17": 18.100,
		"15": 21.074, "12": 24.915, "10": 28.074, "6": 50.313, "2": 144.174},
	"FT4": {"80": 3.575, "40": 7.0475, "30": 10.140, "20": 14.080, "17": 18.104, "15": 21.140, "12": 24.919,
		"10": 28.180, "6": 50.318, "2": 144.170},
	"JT65": {"160": 1.838, "80": 3.570, "40": 7.076, "30": 10.138, "20": 14.076, "17": 18.102, "15": 21.076,
		"12": 24.917, "10": 28.076, "6": 50.310, "2": 144.120},
	"JT9": {"160": 1.839, "80": 3.572, "40": 7.078, "30": 10.140, "20": 14.078, "17": 18.104, "15": 21.078,
		"12": 24.919, "10": 28.078, "6": 50.312},
	"WSPR": {"2190": 0.136000, "630": 0.474200, "160": 1.836600, "80": 3.568600, "60": 5.364700, "40": 7.038600,
		"30": 10.138700, "20": 14.095600, "17": 18.104600, "15": 21.094600, "12": 24.924600, "10": 28.124600,
		"6": 50.293000, "2": 144.489000, "0.7": 432.300000, "81": 3.592600, "61": 5.287200},
	"FST4":  {"2190": 0.136000, "630": 0.474200, "160": 1.839000},
	"FST4W": {"2190": 0.136000, "630": 0.474200, "160": 1.836800},
	"FT8W":  {"80": 3.590, "40": 7.090, "20": 14.090, "15": 21.090, "10": 28.090},
	"FT4W":  {"80": 3.580, "40": 7.080, "20": 14.080, "15": 21.080, "10": 28.080},
}

// BandFrequency returns the dial frequency in MHz for mode on band.
func BandFrequency(mode, band string) (float64, error) {
	bands, ok := bandTable[mode]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}
	freq, ok := bands[band]
	if !ok {
		return 0, fmt.Errorf("profile: no %s frequency for band %sm", mode, band)
	}
	return freq, nil
}
