package soundgen

import "strings"

// captions maps common pad keywords to provider captions. Each caption
// describes one short hit: source, timbre, envelope and space.
var captions = map[string]string{
	"kick":    "Punchy electronic kick drum one-shot, tight low-end thump, short decay, dry studio mix",
	"snare":   "Crisp snare drum hit with bright crack and short room reverb tail, acoustic kit",
	"clap":    "Layered hand clap one-shot, snappy transient, wide stereo, short plate reverb",
	"hat":     "Closed hi-hat tick, bright metallic sizzle, very short decay, clean recording",
	"cymbal":  "Crash cymbal hit with shimmering wash and long natural decay",
	"tom":     "Deep floor tom hit with round pitch drop and warm resonance",
	"bass":    "Single sub bass note, warm analog synth, smooth attack, clean tail",
	"chord":   "Single sustained synth chord stab, lush detuned saw pads, soft release",
	"pad":     "Slow swelling ambient synth pad, soft attack, airy texture, gentle fade",
	"vocal":   "Short wordless vocal chop, breathy tone, light reverb",
	"fx":      "Short sci-fi sound effect sweep, filtered noise rising into a soft zap",
	"riser":   "White noise riser building tension over a few seconds, filtered sweep up",
	"perc":    "Wooden percussion click, short and dry, organic texture",
	"bell":    "Bright bell hit with glassy overtones and long shimmering decay",
	"piano":   "Single felt piano note, soft hammer, warm intimate close mic",
	"guitar":  "Single plucked nylon guitar note, warm body resonance",
	"ambient": "Ambient texture one-shot with soft noise bed and distant reverb",
}

// Caption returns the provider caption for a short prompt: a keyword match
// when one exists, otherwise the prompt framed as a one-shot.
func Caption(text string) string {
	lower := strings.ToLower(text)
	for _, word := range strings.Fields(lower) {
		if c, ok := captions[strings.Trim(word, ".,!?")]; ok {
			return c + ", " + text
		}
	}
	return "One-shot sound of " + text + ", clean studio recording, short natural decay"
}
