package fingerprint

import (
	"errors"
	"fmt"
)

// Agent is a user agent string with the platform it implies.
type Agent struct {
	UserAgent  string `yaml:"user_agent"`
	Platform   string `yaml:"platform"`    // navigator.platform, e.g. "Win32"
	CHPlatform string `yaml:"ch_platform"` // Sec-CH-UA-Platform, e.g. "Windows"
}

// Locale is a BCP 47 tag with the timezones it plausibly pairs with.
type Locale struct {
	Tag       string   `yaml:"tag"`
	Languages []string `yaml:"languages"` // navigator.languages, primary first
	Timezones []string `yaml:"timezones"`
}

// Resolution is a coherent screen size.
type Resolution struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

// GPU is a matched WebGL vendor/renderer pair.
type GPU struct {
	Vendor    string   `yaml:"vendor"`
	Renderer  string   `yaml:"renderer"`
	Platforms []string `yaml:"platforms"` // empty = any platform
}

func (g GPU) fits(platform string) bool {
	if len(g.Platforms) == 0 {
		return true
	}
	for _, p := range g.Platforms {
		if p == platform {
			return true
		}
	}
	return false
}

// Pools are the sets a fingerprint is drawn from.
type Pools struct {
	Agents      []Agent      `yaml:"agents"`
	Locales     []Locale     `yaml:"locales"`
	Resolutions []Resolution `yaml:"resolutions"`
	GPUs        []GPU        `yaml:"gpus"`
	Concurrency []int        `yaml:"hardware_concurrency"`
	Memory      []int        `yaml:"device_memory"`
}

// Validate reports empty or malformed pools.
func (p Pools) Validate() error {
	var errs []error
	if len(p.Agents) == 0 {
		errs = append(errs, errors.New("no agents"))
	}
	if len(p.Locales) == 0 {
		errs = append(errs, errors.New("no locales"))
	}
	for _, l := range p.Locales {
		if len(l.Timezones) == 0 {
			errs = append(errs, fmt.Errorf("locale %q has no timezones", l.Tag))
		}
	}
	if len(p.Resolutions) == 0 {
		errs = append(errs, errors.New("no resolutions"))
	}
	for _, r := range p.Resolutions {
		if r.Width <= 0 || r.Height <= 0 {
			errs = append(errs, fmt.Errorf("invalid resolution %dx%d", r.Width, r.Height))
		}
	}
	if len(p.GPUs) == 0 {
		errs = append(errs, errors.New("no gpus"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("fingerprint: pools: %w", errors.Join(errs...))
	}
	return nil
}

// HasResolution reports whether w*h is one of the configured pairs.
func (p Pools) HasResolution(w, h int) bool {
	for _, r := range p.Resolutions {
		if r.Width == w && r.Height == h {
			return true
		}
	}
	return false
}

// DefaultPools returns desktop Chrome/Edge profiles.
func DefaultPools() Pools {
	return Pools{
		Agents: []Agent{
			{UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36", Platform: "Win32", CHPlatform: "Windows"},
			{UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36", Platform: "Win32", CHPlatform: "Windows"},
			{UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36 Edg/120.0.0.0", Platform: "Win32", CHPlatform: "Windows"},
			{UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36 OPR/108.0.0.0", Platform: "Win32", CHPlatform: "Windows"},
			{UserAgent: "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36", Platform: "MacIntel", CHPlatform: "macOS"},
		},
		Locales: []Locale{
			{Tag: "en-US", Languages: []string{"en-US", "en"}, Timezones: []string{"America/New_York", "America/Chicago", "America/Los_Angeles"}},
			{Tag: "en-GB", Languages: []string{"en-GB", "en"}, Timezones: []string{"Europe/London"}},
			{Tag: "es-ES", Languages: []string{"es-ES", "es"}, Timezones: []string{"Europe/Madrid"}},
			{Tag: "fr-FR", Languages: []string{"fr-FR", "fr"}, Timezones: []string{"Europe/Paris"}},
			{Tag: "de-DE", Languages: []string{"de-DE", "de"}, Timezones: []string{"Europe/Berlin"}},
			{Tag: "pt-BR", Languages: []string{"pt-BR", "pt"}, Timezones: []string{"America/Sao_Paulo"}},
		},
		Resolutions: []Resolution{
			{1920, 1080}, {1366, 768}, {1536, 864}, {1440, 900}, {1280, 720},
		},
		GPUs: []GPU{
			{Vendor: "Google Inc. (Intel)", Renderer: "ANGLE (Intel, Intel(R) UHD Graphics 630 Direct3D11 vs_5_0 ps_5_0, D3D11)", Platforms: []string{"Win32"}},
			{Vendor: "Google Inc. (NVIDIA)", Renderer: "ANGLE (NVIDIA, NVIDIA GeForce GTX 1660 Direct3D11 vs_5_0 ps_5_0, D3D11)", Platforms: []string{"Win32"}},
			{Vendor: "Google Inc. (AMD)", Renderer: "ANGLE (AMD, AMD Radeon RX 580 Direct3D11 vs_5_0 ps_5_0, D3D11)", Platforms: []string{"Win32"}},
			{Vendor: "Intel Inc.", Renderer: "Intel Iris OpenGL Engine", Platforms: []string{"MacIntel"}},
			{Vendor: "Google Inc. (Apple)", Renderer: "ANGLE (Apple, Apple M1, OpenGL 4.1)", Platforms: []string{"MacIntel"}},
		},
		Concurrency: []int{4, 8, 12, 16},
		Memory:      []int{4, 8},
	}
}
