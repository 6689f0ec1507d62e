package core

import (
	"fmt"
	"strings"
)

// Voice identifies one of the prebuilt speech voices.
type Voice string

// Available voices, in the order they are offered to users.
const (
	VoiceAchernar      Voice = "achernar"
	VoiceAchird        Voice = "achird"
	VoiceAlgenib       Voice = "algenib"
	VoiceAlgieba       Voice = "algieba"
	VoiceAlnilam       Voice = "alnilam"
	VoiceAoede         Voice = "aoede"
	VoiceAutonoe       Voice = "autonoe"
	VoiceCallirrhoe    Voice = "callirrhoe"
	VoiceCharon        Voice = "charon"
	VoiceDespina       Voice = "despina"
	VoiceEnceladus     Voice = "enceladus"
	VoiceErinome       Voice = "erinome"
	VoiceFenrir        Voice = "fenrir"
	VoiceGacrux        Voice = "gacrux"
	VoiceIapetus       Voice = "iapetus"
	VoiceKore          Voice = "kore"
	VoiceLaomedeia     Voice = "laomedeia"
	VoiceLeda          Voice = "leda"
	VoiceOrus          Voice = "orus"
	VoicePuck          Voice = "puck"
	VoicePulcherrima   Voice = "pulcherrima"
	VoiceRasalgethi    Voice = "rasalgethi"
	VoiceSadachbia     Voice = "sadachbia"
	VoiceSadaltager    Voice = "sadaltager"
	VoiceSchedar       Voice = "schedar"
	VoiceSulafat       Voice = "sulafat"
	VoiceUmbriel       Voice = "umbriel"
	VoiceVindemiatrix  Voice = "vindemiatrix"
	VoiceZephyr        Voice = "zephyr"
	VoiceZubenelgenubi Voice = "zubenelgenubi"
)

var allVoices = []Voice{
	VoiceAchernar, VoiceAchird, VoiceAlgenib, VoiceAlgieba, VoiceAlnilam,
	VoiceAoede, VoiceAutonoe, VoiceCallirrhoe, VoiceCharon, VoiceDespina,
	VoiceEnceladus, VoiceErinome, VoiceFenrir, VoiceGacrux, VoiceIapetus,
	VoiceKore, VoiceLaomedeia, VoiceLeda, VoiceOrus, VoicePuck,
	VoicePulcherrima, VoiceRasalgethi, VoiceSadachbia, VoiceSadaltager, VoiceSchedar,
	VoiceSulafat, VoiceUmbriel, VoiceVindemiatrix, VoiceZephyr, VoiceZubenelgenubi,
}

// Voices returns every supported voice.
func Voices() []Voice {
	out := make([]Voice, len(allVoices))
	copy(out, allVoices)

	return out
}

// ParseVoice accepts a voice id in any letter case.
func ParseVoice(value string) (Voice, error) {
	candidate := Voice(strings.ToLower(strings.TrimSpace(value)))
	if candidate.Valid() {
		return candidate, nil
	}

	return "", fmt.Errorf("%w: unsupported voice '%s'", ErrValidation, value)
}

// Valid reports whether v is one of the supported voices.
func (v Voice) Valid() bool {
	for _, known := range allVoices {
		if v == known {
			return true
		}
	}

	return false
}

// Name returns the capitalised name the speech provider expects.
func (v Voice) Name() string {
	if v == "" {
		return ""
	}

	return strings.ToUpper(string(v[:1])) + string(v[1:])
}
