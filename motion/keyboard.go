package motion

import (
	"time"
	"unicode"
)

// KeyKind is the type of a keystroke event.
type KeyKind int

const (
	KeyEmit       KeyKind = iota // type the intended rune
	KeySubstitute                // type a neighbouring rune by mistake
	KeyBackspace                 // erase the previous rune
)

func (k KeyKind) String() string {
	switch k {
	case KeyEmit:
		return "emit"
	case KeySubstitute:
		return "substitute"
	case KeyBackspace:
		return "backspace"
	}
	return "unknown"
}

// Keystroke is one key event followed by a pause.
type Keystroke struct {
	Kind  KeyKind
	Char  rune // zero for KeyBackspace
	Delay time.Duration
}

// KeystrokePlan is the ordered list of key events for a text.
type KeystrokePlan []Keystroke

// Count returns how many events of the given kind the plan contains.
func (p KeystrokePlan) Count(kind KeyKind) int {
	n := 0
	for _, k := range p {
		if k.Kind == kind {
			n++
		}
	}
	return n
}

// Text returns what the plan leaves in the field once replayed.
func (p KeystrokePlan) Text() string {
	var out []rune
	for _, k := range p {
		switch k.Kind {
		case KeyEmit, KeySubstitute:
			out = append(out, k.Char)
		case KeyBackspace:
			if len(out) > 0 {
				out = out[:len(out)-1]
			}
		}
	}
	return string(out)
}

// QWERTY neighbours. Runes missing from the map never produce a typo.
var keyboardNeighbors = map[rune][]rune{
	'a': []rune("sqzw"), 'b': []rune("vngh"), 'c': []rune("xvdf"), 'd': []rune("sfercx"),
	'e': []rune("wrds"), 'f': []rune("dgrtvc"), 'g': []rune("fhtybv"), 'h': []rune("gjyunb"),
	'i': []rune("uokj"), 'j': []rune("hkuimn"), 'k': []rune("jlio,m"), 'l': []rune("k;op.,"),
	'm': []rune("n,jk"), 'n': []rune("bmhj"), 'o': []rune("ipkl"), 'p': []rune("o[l;"),
	'q': []rune("wa12"), 'r': []rune("etdf"), 's': []rune("adwezx"), 't': []rune("ryfg"),
	'u': []rune("yihj"), 'v': []rune("cbfg"), 'w': []rune("qeas"), 'x': []rune("zcsd"),
	'y': []rune("tugh"), 'z': []rune("axs"),
	'0': []rune("9-"), '1': []rune("2q"), '2': []rune("13qw"), '3': []rune("24we"),
	'4': []rune("35er"), '5': []rune("46rt"), '6': []rune("57ty"), '7': []rune("68yu"),
	'8': []rune("79ui"), '9': []rune("80io"),
	'.': []rune(",/l;"), ',': []rune("m.kl"), ';': []rune("l'p["), '\'': []rune(";\\[]"),
	'[': []rune("p];'"), ']': []rune("[\\'"), '\\': []rune("]'"), '/': []rune(".l;"),
	'-': []rune("0="), '=': []rune("-p["), ' ': []rune("cvbnm"),
}

// HasNeighbor reports whether r can produce a typo.
func HasNeighbor(r rune) bool {
	_, ok := keyboardNeighbors[unicode.ToLower(r)]
	return ok
}

// KeystrokePlan builds the key events for text. Each rune with a keyboard
// neighbour is mistyped with probability errorRate, then erased and typed
// correctly. carefulMode slows every delay down.
func (s *Synthesizer) KeystrokePlan(text string, errorRate float64, carefulMode bool) KeystrokePlan {
	s.mu.Lock()
	defer s.mu.Unlock()

	typing, fix := s.cfg.Typing, s.cfg.Correction
	if carefulMode {
		typing, fix = s.cfg.CarefulTyping, s.cfg.CarefulFix
	}

	runes := []rune(text)
	plan := make(KeystrokePlan, 0, len(runes))
	for _, r := range runes {
		if errorRate > 0 && s.rng.Float64() < errorRate {
			if wrong, ok := s.neighbor(r); ok {
				plan = append(plan,
					Keystroke{Kind: KeySubstitute, Char: wrong, Delay: fix.sample(s.rng)},
					Keystroke{Kind: KeyBackspace, Delay: fix.sample(s.rng)},
				)
			}
		}

		delay := typing.sample(s.rng)
		if s.rng.Float64() < s.cfg.ThinkChance {
			delay += s.cfg.ThinkPause.sample(s.rng)
		}
		plan = append(plan, Keystroke{Kind: KeyEmit, Char: r, Delay: delay})
	}
	return plan
}

// neighbor must be called with mu held.
func (s *Synthesizer) neighbor(r rune) (rune, bool) {
	lower := unicode.ToLower(r)
	opts, ok := keyboardNeighbors[lower]
	if !ok || len(opts) == 0 {
		return r, false
	}
	wrong := opts[s.rng.IntN(len(opts))]
	if unicode.IsUpper(r) {
		wrong = unicode.ToUpper(wrong)
	}
	return wrong, true
}
