package profile

import "encoding/json"

// Personality describes either party's disposition.
type Personality struct {
	MBTI               string `json:"mbti"`
	Description        string `json:"description"`
	WorldviewAndValues string `json:"worldview_and_values"`
}

// EmotionsAndNeeds splits emotional state into durable and current.
type EmotionsAndNeeds struct {
	LongTerm  string `json:"long_term"`
	ShortTerm string `json:"short_term"`
}

// LanguageStyle describes how the bot speaks.
type LanguageStyle struct {
	Description string   `json:"description"`
	Examples    []string `json:"examples"`
}

// Bot is the bot's persona.
type Bot struct {
	Name                 string           `json:"name"`
	Gender               string           `json:"gender"`
	Birthday             string           `json:"birthday"`
	Role                 string           `json:"role"`
	Appearance           string           `json:"appearance"`
	Likes                []string         `json:"likes"`
	Dislikes             []string         `json:"dislikes"`
	LanguageStyle        LanguageStyle    `json:"language_style"`
	Personality          Personality      `json:"personality"`
	EmotionsAndNeeds     EmotionsAndNeeds `json:"emotions_and_needs"`
	RelationshipWithUser string           `json:"relationship_with_user"`
}

// User is the accumulated model of the user.
type User struct {
	Name             string           `json:"name"`
	Gender           string           `json:"gender"`
	Birthday         string           `json:"birthday"`
	PersonalFacts    []string         `json:"personal_facts"`
	Abilities        []string         `json:"abilities"`
	Likes            []string         `json:"likes"`
	Dislikes         []string         `json:"dislikes"`
	Personality      Personality      `json:"personality"`
	EmotionsAndNeeds EmotionsAndNeeds `json:"emotions_and_needs"`
}

// Event is one dated memorable event.
type Event struct {
	Time    string `json:"time"`
	Details string `json:"details"`
}

// Document is the parsed profile.
type Document struct {
	Bot                   Bot      `json:"bot"`
	User                  User     `json:"user"`
	MemorableEvents       []Event  `json:"memorable_events"`
	CommandsAndAgreements []string `json:"commands_and_agreements"`
}

// Document returns the parsed current profile.
func (m *Manager) Document() Document {
	m.mu.Lock()
	defer m.mu.Unlock()

	var doc Document
	// The document was schema-validated on the way in; a decode failure
	// here would mean the schema and struct disagree.
	_ = json.Unmarshal(m.doc, &doc)
	return doc
}
