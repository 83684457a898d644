// File: internal/browser/stealth/persona.go
package stealth

import (
	"math/rand"

	"github.com/chromedp/cdproto/emulation"
)

// Fingerprint pools. Kept to configurations that actually occur on Brazilian
// desktop traffic so the persona is plausible to the portal.

type uaProfile struct {
	userAgent       string
	platform        string
	chPlatform      string
	platformVersion string
	chromeMajor     string
	chromeFull      string
}

var uaProfiles = []uaProfile{
	{
		userAgent:       "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
		platform:        "Win32",
		chPlatform:      "Windows",
		platformVersion: "10.0.0",
		chromeMajor:     "126",
		chromeFull:      "126.0.6478.127",
	},
	{
		userAgent:       "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36",
		platform:        "Win32",
		chPlatform:      "Windows",
		platformVersion: "10.0.0",
		chromeMajor:     "125",
		chromeFull:      "125.0.6422.142",
	},
	{
		userAgent:       "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
		platform:        "MacIntel",
		chPlatform:      "macOS",
		platformVersion: "14.5.0",
		chromeMajor:     "126",
		chromeFull:      "126.0.6478.127",
	},
	{
		userAgent:       "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
		platform:        "Linux x86_64",
		chPlatform:      "Linux",
		platformVersion: "6.5.0",
		chromeMajor:     "126",
		chromeFull:      "126.0.6478.127",
	},
}

var screenPool = []ScreenProperties{
	{Width: 1920, Height: 1080, AvailWidth: 1920, AvailHeight: 1040, ColorDepth: 24, PixelDepth: 24},
	{Width: 1366, Height: 768, AvailWidth: 1366, AvailHeight: 728, ColorDepth: 24, PixelDepth: 24},
	{Width: 1536, Height: 864, AvailWidth: 1536, AvailHeight: 824, ColorDepth: 24, PixelDepth: 24},
	{Width: 1440, Height: 900, AvailWidth: 1440, AvailHeight: 860, ColorDepth: 24, PixelDepth: 24},
}

var webGLPool = []struct {
	vendor   string
	renderer string
}{
	{"Google Inc. (Intel)", "ANGLE (Intel, Intel(R) UHD Graphics 620 Direct3D11 vs_5_0 ps_5_0, D3D11)"},
	{"Google Inc. (NVIDIA)", "ANGLE (NVIDIA, NVIDIA GeForce GTX 1650 Direct3D11 vs_5_0 ps_5_0, D3D11)"},
	{"Google Inc. (AMD)", "ANGLE (AMD, AMD Radeon(TM) Graphics Direct3D11 vs_5_0 ps_5_0, D3D11)"},
}

var hardwareConcurrencyPool = []int{4, 8, 12, 16}
var deviceMemoryPool = []int{4, 8, 16}

// DefaultPersona returns a fixed, plausible Brazilian desktop profile.
func DefaultPersona() Persona {
	return buildPersona(uaProfiles[0], screenPool[0], webGLPool[0].vendor, webGLPool[0].renderer, 8, 8)
}

// RandomPersona draws a coherent profile from the fingerprint pools. The
// pieces are drawn together so the platform, client hints, and renderer never
// contradict each other.
func RandomPersona() Persona {
	ua := uaProfiles[rand.Intn(len(uaProfiles))]
	screen := screenPool[rand.Intn(len(screenPool))]
	gl := webGLPool[rand.Intn(len(webGLPool))]
	return buildPersona(ua, screen,
		gl.vendor, gl.renderer,
		hardwareConcurrencyPool[rand.Intn(len(hardwareConcurrencyPool))],
		deviceMemoryPool[rand.Intn(len(deviceMemoryPool))])
}

func buildPersona(ua uaProfile, screen ScreenProperties, glVendor, glRenderer string, cores, memory int) Persona {
	return Persona{
		UserAgent:           ua.userAgent,
		Platform:            ua.platform,
		Languages:           []string{"pt-BR", "pt", "en-US", "en"},
		TimezoneID:          "America/Sao_Paulo",
		Locale:              "pt-BR",
		WebGLVendor:         glVendor,
		WebGLRenderer:       glRenderer,
		HardwareConcurrency: cores,
		DeviceMemory:        memory,
		Screen:              screen,
		ClientHintsData: &ClientHints{
			Brands: []*emulation.UserAgentBrandVersion{
				{Brand: "Not/A)Brand", Version: "8"},
				{Brand: "Chromium", Version: ua.chromeMajor},
				{Brand: "Google Chrome", Version: ua.chromeMajor},
			},
			FullVersionList: []*emulation.UserAgentBrandVersion{
				{Brand: "Not/A)Brand", Version: "8.0.0.0"},
				{Brand: "Chromium", Version: ua.chromeFull},
				{Brand: "Google Chrome", Version: ua.chromeFull},
			},
			Mobile:          false,
			Platform:        ua.chPlatform,
			PlatformVersion: ua.platformVersion,
			Architecture:    "x86",
			Bitness:         "64",
		},
	}
}
