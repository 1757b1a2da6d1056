// Package domain holds the mods configuration model and the lookup and
// matching rules applied to it.
package domain

// Mod is a single downloadable artifact tracked by name, filename pattern and
// source repository.
type Mod struct {
	Name         string `json:"name" mapstructure:"name"`
	Pattern      string `json:"pattern" mapstructure:"pattern"`
	DownloadLink string `json:"download_link" mapstructure:"download_link"`
}

// ModGroup is a named collection of mods sharing one installation directory.
type ModGroup struct {
	Name     string `json:"name" mapstructure:"name"`
	Mods     []Mod  `json:"mods" mapstructure:"mods"`
	Location string `json:"location" mapstructure:"location"`
}

// Configuration is the full mods document. It is read-only once loaded.
type Configuration struct {
	Groups []ModGroup `json:"mods" mapstructure:"mods"`
}
