package language

import (
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// Default is the session language when none is configured.
const Default = "ja"

// Language represents a supported transcription language
type Language struct {
	Code       string // ISO 639-1 code (e.g., "ja", "en")
	Name       string // English name
	NativeName string // name in the language itself
}

// Auto represents auto-detection
var Auto = Language{Code: "", Name: "Auto-detect"}

// codes every built-in provider accepts in some form
var codes = []string{
	"af", "ar", "hy", "az", "be", "bs", "bg", "ca", "zh", "hr", "cs", "da",
	"nl", "en", "et", "fi", "fr", "gl", "de", "el", "he", "hi", "hu", "is",
	"id", "it", "ja", "kn", "kk", "ko", "lv", "lt", "mk", "ms", "mr", "mi",
	"ne", "no", "fa", "pl", "pt", "ro", "ru", "sr", "sk", "sl", "es", "sw",
	"sv", "tl", "ta", "th", "tr", "uk", "ur", "vi", "cy",
}

var codeIndex map[string]Language

func init() {
	codeIndex = make(map[string]Language, len(codes)+1)
	codeIndex[""] = Auto
	for _, code := range codes {
		codeIndex[code] = describe(code)
	}
}

func describe(code string) Language {
	tag := language.Make(code)
	return Language{
		Code:       code,
		Name:       display.English.Languages().Name(tag),
		NativeName: display.Self.Name(tag),
	}
}

// FromCode returns the Language for the given code, or Auto if unknown.
func FromCode(code string) Language {
	if lang, ok := codeIndex[normalize(code)]; ok {
		return lang
	}
	return Auto
}

// IsValidCode reports whether code is supported (empty means auto-detect).
func IsValidCode(code string) bool {
	_, ok := codeIndex[normalize(code)]
	return ok
}

// Codes returns all supported codes, excluding auto.
func Codes() []string {
	out := make([]string, len(codes))
	copy(out, codes)
	return out
}

func List() []Language {
	out := make([]Language, 0, len(codes))
	for _, code := range codes {
		out = append(out, codeIndex[code])
	}
	return out
}

// Label renders a code for menus, e.g. "Japanese (ja)".
func Label(code string) string {
	if code == "" {
		return Auto.Name
	}
	lang := FromCode(code)
	if lang.Code == "" {
		return "language '" + code + "'"
	}
	return lang.Name + " (" + lang.Code + ")"
}

// Vendor names accepted by ToProviderFormat.
const (
	VendorOpenAI     = "openai"
	VendorGroq       = "groq"
	VendorDeepgram   = "deepgram"
	VendorElevenLabs = "elevenlabs"
	VendorRunpod     = "runpod"
	VendorLocal      = "faster-whisper"
)

// ToProviderFormat converts a canonical code to the form a vendor expects.
// ElevenLabs takes ISO 639-3, Deepgram wants a region for English, the rest
// use ISO 639-1 as is.
func ToProviderFormat(code, vendor string) string {
	code = normalize(code)
	if code == "" {
		return ""
	}
	switch vendor {
	case VendorElevenLabs:
		if code == "zh" {
			return "cmn"
		}
		base, conf := language.Make(code).Base()
		if conf == language.No {
			return code
		}
		return base.ISO3()
	case VendorDeepgram:
		if code == "en" {
			return "en-US"
		}
		return code
	default:
		return code
	}
}

func normalize(code string) string {
	code = strings.ToLower(strings.TrimSpace(code))
	if i := strings.IndexAny(code, "-_"); i > 0 {
		code = code[:i]
	}
	return code
}
