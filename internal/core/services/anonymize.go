package services

import (
	"net/url"
	"strconv"
	"unicode/utf16"

	"pok7/internal/core/domain"
)

const avatarBaseURL = "https://api.dicebear.com/9.x/adventurer-neutral/svg?seed="

var (
	aliasAdjectives = []string{
		"Petit", "Grand", "Fou", "Triste", "Heureux", "Coquin", "Sombre", "Drôle",
		"Curieux", "Rapide", "Lent", "Rusé", "Ailé", "Gourmand", "Tchateur",
		"DOrEtDePlatine", "Légendaire",
	}
	aliasNouns = []string{
		"Lapin", "Pigeon", "Hérisson", "Licorne", "Canard", "Chat", "Chien", "Panda",
		"Renard", "Mouton", "Cochon", "Gazo", "Macron", "Modric", "Sinner", "Wembanyama",
	}
)

// seedIndex is the 31-multiplier string hash over UTF-16 code units,
// wrapped to int32, reduced to [0, n).
func seedIndex(seed string, n int) int {
	var h int32
	for _, c := range utf16.Encode([]rune(seed)) {
		h = (h << 5) - h + int32(c)
	}
	v := int64(h)
	if v < 0 {
		v = -v
	}
	return int(v % int64(n))
}

func pickBySeed(words []string, seed string) string {
	return words[seedIndex(seed, len(words))]
}

// AnonymizedName builds adjective + noun + adjective from seed. The two
// adjectives always differ.
func AnonymizedName(seed string) string {
	first := pickBySeed(aliasAdjectives, seed)
	noun := pickBySeed(aliasNouns, seed+"noun")
	last := pickBySeed(aliasAdjectives, seed+"adj2")
	for i := 0; last == first; i++ {
		last = pickBySeed(aliasAdjectives, seed+"adj2"+strconv.Itoa(i))
	}
	return first + noun + last
}

func AnonymizedPicture(seed string) string {
	return avatarBaseURL + url.QueryEscape(seed)
}

// AnonymizedIdentityFor is the identity a user starts with.
func AnonymizedIdentityFor(userID string) domain.AnonymizedIdentity {
	return domain.AnonymizedIdentity{
		Username: AnonymizedName(userID),
		Picture:  AnonymizedPicture(userID),
	}
}
