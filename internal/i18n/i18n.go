// Copyright (c) 2025 morphZ
// dbus-mqtt-meter - Venus OS MQTT grid meter deployment
// This source code is licensed under the MIT license found in the LICENSE file.

// Package i18n provides internationalization support for the deployment
// tool. It uses the go-i18n library to load and manage translation files,
// allowing CLI output to be displayed in multiple languages.
package i18n

import (
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"embed"

	goi18n "github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

// localeFS embeds the YAML translation files from the 'locales' directory
// into the application binary.
//
//go:embed locales/*.yaml
var localeFS embed.FS

// displayNames maps locale tags to the names shown in `--lang` help output.
var displayNames = map[string]string{
	"en": "English",
	"de": "Deutsch",
}

var (
	bundle      *goi18n.Bundle
	localizer   *goi18n.Localizer
	currentLang string
)

// Init initializes the i18n bundle and sets up the localizer for a specific
// language. It parses all embedded YAML files from the 'locales' directory.
func Init(lang string) {
	bundle = goi18n.NewBundle(language.English)
	bundle.RegisterUnmarshalFunc("yaml", yaml.Unmarshal)

	files, _ := fs.ReadDir(localeFS, "locales")
	for _, f := range files {
		if f.IsDir() {
			continue
		}
		data, _ := localeFS.ReadFile("locales/" + f.Name())
		if _, err := bundle.ParseMessageFileBytes(data, f.Name()); err != nil {
			// A broken locale file should not take the tool down; the
			// English fallback inside T covers missing messages.
			continue
		}
	}

	localizer = goi18n.NewLocalizer(bundle, lang)
	currentLang = lang
}

// T translates a message by its ID. Extra arguments are applied with
// fmt.Sprintf semantics, so messages may carry printf verbs. If the i18n
// system has not been initialized it defaults to English, and if a
// translation is not found the ID itself is returned.
func T(messageID string, args ...interface{}) string {
	if localizer == nil {
		Init("en")
	}
	msg, err := localizer.Localize(&goi18n.LocalizeConfig{MessageID: messageID})
	if err != nil {
		msg = messageID
	}
	if len(args) > 0 {
		return fmt.Sprintf(msg, args...)
	}
	return msg
}

// SetLang changes the active language of the localizer.
func SetLang(lang string) {
	Init(lang)
}

// GetLang returns the language tag the localizer was initialized with.
func GetLang() string {
	return currentLang
}

// GetAvailableLocales lists the embedded locales as a map of language tag
// to display name, derived from the active.<tag>.yaml files.
func GetAvailableLocales() map[string]string {
	out := map[string]string{}
	files, _ := fs.ReadDir(localeFS, "locales")
	for _, f := range files {
		name := f.Name()
		if !strings.HasPrefix(name, "active.") || !strings.HasSuffix(name, ".yaml") {
			continue
		}
		tag := strings.TrimSuffix(strings.TrimPrefix(name, "active."), ".yaml")
		if display, ok := displayNames[tag]; ok {
			out[tag] = display
		} else {
			out[tag] = tag
		}
	}
	return out
}

// AvailableLocaleTags returns the sorted locale tags, handy for help text.
func AvailableLocaleTags() []string {
	locales := GetAvailableLocales()
	tags := make([]string, 0, len(locales))
	for tag := range locales {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}
