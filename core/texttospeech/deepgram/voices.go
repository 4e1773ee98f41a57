package deepgram

import "fmt"

type deepgramVoice string

const (
	VoiceThalia  deepgramVoice = "aura-2-thalia-en"
	VoiceAsteria deepgramVoice = "aura-asteria-en"
	VoiceLuna    deepgramVoice = "aura-luna-en"
	VoiceOrion   deepgramVoice = "aura-orion-en"
)

const defaultVoice = VoiceThalia

func GetAvailableVoices() []deepgramVoice {
	return []deepgramVoice{VoiceThalia, VoiceAsteria, VoiceLuna, VoiceOrion}
}

// ParseVoice resolves a configured voice name. Empty selects the default.
func ParseVoice(name string) (deepgramVoice, error) {
	if name == "" {
		return defaultVoice, nil
	}
	for _, voice := range GetAvailableVoices() {
		if string(voice) == name {
			return voice, nil
		}
	}
	return "", fmt.Errorf("unknown voice %q", name)
}
