// Package persona generates synthetic consumer identities.
package persona

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"

	"github.com/google/uuid"
)

var firstNames = []string{
	"Ada", "Bruno", "Chloe", "Dmitri", "Elena", "Farah", "Gus", "Hana",
	"Ivan", "Jade", "Kofi", "Lena", "Marco", "Nia", "Omar", "Priya",
	"Quinn", "Rosa", "Sven", "Tara", "Umar", "Vera", "Wes", "Yuki", "Zane",
}

var lastNames = []string{
	"Abbott", "Baptiste", "Castillo", "Dubois", "Eriksen", "Fischer",
	"Gonzalez", "Haddad", "Ito", "Jensen", "Kowalski", "Lindqvist",
	"Moreau", "Nakamura", "Okafor", "Petrov", "Quintero", "Rossi",
	"Schmidt", "Tanaka", "Ueda", "Varga", "Walsh", "Yilmaz", "Zhou",
}

var emailDomains = []string{"example.com", "example.org", "example.net", "mail.test"}

var timezones = []string{
	"America/New_York", "America/Chicago", "America/Denver", "America/Los_Angeles",
	"Europe/London", "Europe/Berlin", "Europe/Madrid", "Asia/Tokyo",
	"Asia/Singapore", "Australia/Sydney",
}

// Person is a synthetic consumer.
type Person struct {
	FirstName  string
	LastName   string
	Email      string
	Timezone   string
	ExternalID string
}

// Generator produces Persons. The zero value is not usable; call New.
type Generator struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// New returns a generator seeded from the runtime's random source.
func New() *Generator {
	return &Generator{rng: rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))}
}

// NewSeeded returns a deterministic generator.
func NewSeeded(seed1, seed2 uint64) *Generator {
	return &Generator{rng: rand.New(rand.NewPCG(seed1, seed2))}
}

func (g *Generator) pick(list []string) string {
	return list[g.rng.IntN(len(list))]
}

// Person generates a new identity. When fakeNames is false only the external
// id and timezone are filled.
func (g *Generator) Person(fakeNames bool) Person {
	g.mu.Lock()
	defer g.mu.Unlock()

	p := Person{
		Timezone:   g.pick(timezones),
		ExternalID: uuid.NewString(),
	}
	if !fakeNames {
		return p
	}
	p.FirstName = g.pick(firstNames)
	p.LastName = g.pick(lastNames)
	p.Email = fmt.Sprintf("%s.%s%d@%s",
		strings.ToLower(p.FirstName), strings.ToLower(p.LastName), g.rng.IntN(1000), g.pick(emailDomains))
	return p
}
