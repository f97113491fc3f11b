// Package fingerprint classifies a raw user agent into browser, OS and
// device class. Classification is a pure substring match against ordered
// token tables; the first matching entry wins.
package fingerprint

import (
	"strings"

	"github.com/Monthlyaway/qr-link/internal/model"
)

// Fingerprint is the derived {browser, os, deviceType} triple
type Fingerprint struct {
	Browser    string `json:"browser"`
	OS         string `json:"os"`
	DeviceType string `json:"device_type"`
}

// Rule maps a user-agent token to a label
type Rule struct {
	Token string
	Label string
}

// Table is an ordered list of rules with a fallback label
type Table struct {
	Rules    []Rule
	Fallback string
}

// Classify returns the label of the first rule whose token occurs in ua
func (t Table) Classify(ua string) string {
	for _, r := range t.Rules {
		if strings.Contains(ua, r.Token) {
			return r.Label
		}
	}
	return t.Fallback
}

// Browsers is checked in order: Chrome user agents also carry "Safari",
// so Chrome must come before Safari.
var Browsers = Table{
	Rules: []Rule{
		{"Firefox", "Firefox"},
		{"Chrome", "Chrome"},
		{"Safari", "Safari"},
		{"Edge", "Edge"},
		{"Opera", "Opera"},
	},
	Fallback: model.Unknown,
}

var OperatingSystems = Table{
	Rules: []Rule{
		{"Windows", "Windows"},
		{"Mac OS", "MacOS"},
		{"Linux", "Linux"},
		{"Android", "Android"},
		{"iOS", "iOS"},
	},
	Fallback: model.Unknown,
}

var Devices = Table{
	Rules: []Rule{
		{"Mobile", model.DeviceMobile},
		{"Tablet", model.DeviceTablet},
	},
	Fallback: model.DeviceDesktop,
}

// Parse classifies a user agent. It never fails; an empty string yields
// Unknown/Unknown/Desktop.
func Parse(ua string) Fingerprint {
	return Fingerprint{
		Browser:    Browsers.Classify(ua),
		OS:         OperatingSystems.Classify(ua),
		DeviceType: Devices.Classify(ua),
	}
}

// Unknown is the fingerprint of a user agent nothing could be derived from
func Unknown() Fingerprint {
	return Fingerprint{
		Browser:    Browsers.Fallback,
		OS:         OperatingSystems.Fallback,
		DeviceType: Devices.Fallback,
	}
}
