// Package profile holds the caller-supplied child profile and builds the
// persona instruction string sent to the realtime speech model.
package profile

import (
	"fmt"
	"strings"
)

// DefaultName is used whenever a caller did not provide a name.
const DefaultName = "Kiddo"

// Relative describes one additional child mentioned on the call (a sibling
// or friend who may be listening in).
type Relative struct {
	Name     string `json:"name"`
	Age      string `json:"age"`
	Pronouns string `json:"pronouns"`
}

// Profile is the caller-editable child profile. Every field is optional; the
// zero value is a valid profile and degrades to a default-only instruction
// set. A profile is immutable for the duration of one call.
type Profile struct {
	Name      string     `json:"name"`
	Age       string     `json:"age"`
	Pronouns  string     `json:"pronouns"`
	Favorites string     `json:"favorites"`
	Wishlist  string     `json:"wishlist"`
	Wins      string     `json:"wins"`
	Notes     string     `json:"notes"`
	Children  []Relative `json:"children,omitempty"`
}

// DisplayName returns the child's name, or DefaultName when absent.
func (p Profile) DisplayName() string {
	if n := strings.TrimSpace(p.Name); n != "" {
		return n
	}
	return DefaultName
}

// summarize renders the populated profile fields into one compact clause.
// An empty profile yields a fixed default clause so the instruction string
// never contains holes.
func summarize(p Profile) string {
	var parts []string
	if p.Name != "" {
		parts = append(parts, "Name: "+p.Name)
	}
	if p.Age != "" {
		parts = append(parts, "Age: "+p.Age)
	}
	if p.Pronouns != "" {
		parts = append(parts, "Pronouns: "+p.Pronouns)
	}
	if p.Favorites != "" {
		parts = append(parts, "Favorites: "+p.Favorites)
	}
	if p.Wishlist != "" {
		parts = append(parts, "Wishlist: "+p.Wishlist)
	}
	if p.Wins != "" {
		parts = append(parts, "Wins: "+p.Wins)
	}
	if p.Notes != "" {
		parts = append(parts, "Notes: "+p.Notes)
	}
	if len(parts) == 0 {
		return "No profile details were provided."
	}
	return fmt.Sprintf("Use these profile details without asking the parent: %s.", strings.Join(parts, "; "))
}

// describeRelative renders one related child for the siblings clause.
func describeRelative(r Relative) string {
	name := r.Name
	if name == "" {
		name = "Unnamed"
	}
	s := name
	if r.Age != "" {
		s += fmt.Sprintf(" (age %s)", r.Age)
	}
	if r.Pronouns != "" {
		s += ", pronouns " + r.Pronouns
	}
	return s
}

// BuildInstructions maps a profile deterministically into the full persona
// instruction string. Clause order is fixed; a clause appears iff its source
// field is non-empty, so two calls with identical profiles produce
// byte-identical output.
func BuildInstructions(p Profile) string {
	parts := []string{
		"You are Santa Claus on a cozy Christmas Eve phone call.",
		"Be warm, playful, and brief. Use lots of cheerful energy but keep answers concise for a real call cadence.",
		"Sound like an older Saint Nick: deep, warm baritone with audible age and gentle gravel. Keep a steady pace with short, friendly sentences.",
		"Sprinkle in sound effects with your voice (bells, sleigh, elves cheering) when it feels fun.",
		"Early in the chat, after a warm greeting and a beat of small talk, invite the child to share what they would like for Christmas. Keep it natural, not rushed.",
		summarize(p),
	}

	if p.Name != "" {
		parts = append(parts, fmt.Sprintf("You are talking to %s.", p.Name))
	}
	if p.Age != "" {
		parts = append(parts, fmt.Sprintf("They are %s years old.", p.Age))
	}
	if p.Pronouns != "" {
		parts = append(parts, fmt.Sprintf("Use pronouns: %s.", p.Pronouns))
	}
	if p.Wishlist != "" {
		parts = append(parts, fmt.Sprintf("Wishlist (mention naturally): %s.", p.Wishlist))
	}
	if p.Favorites != "" {
		parts = append(parts, fmt.Sprintf("Favorites to weave into the chat: %s.", p.Favorites))
	}
	if p.Wins != "" {
		parts = append(parts, fmt.Sprintf("Recent wins to celebrate: %s.", p.Wins))
	}
	if p.Notes != "" {
		parts = append(parts, fmt.Sprintf("Parent notes and boundaries: %s.", p.Notes))
	}

	if len(p.Children) > 0 {
		described := make([]string, 0, len(p.Children))
		names := make([]string, 0, len(p.Children)+1)
		if p.Name != "" {
			names = append(names, p.Name)
		}
		for _, c := range p.Children {
			described = append(described, describeRelative(c))
			if c.Name != "" {
				names = append(names, c.Name)
			}
		}
		parts = append(parts, fmt.Sprintf("Siblings: %s.", strings.Join(described, "; ")))
		parts = append(parts, fmt.Sprintf("Greet and include all children by name: %s.", strings.Join(names, ", ")))
	}

	parts = append(parts,
		"If a child asks for something unreasonable or a live pet (kitten/puppy), gently redirect: explain that's a big responsibility and they should talk with their parents, then steer back to fun Christmas gifts or shared experiences.",
		"Never promise anything a parent could not realistically provide. Keep expectations grounded and kind.",
		"Do not say 'Merry Christmas Eve'. Use a general, timeless greeting instead.",
		"Do not mention the current date or day. Just greet warmly without referencing the calendar.",
		"Keep the call in English. Only switch to Spanish if the caller explicitly asks you to (for example: \"please talk in Spanish too\").",
		"Keep the magic alive and avoid any sensitive or scary topics.",
	)

	return strings.Join(parts, " ")
}
