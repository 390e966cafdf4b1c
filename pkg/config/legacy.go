package config

// LegacyAI mirrors the old nested "ai" configuration shape. It is read
// for compatibility and folded into the modern shape by applyLegacy.
type LegacyAI struct {
	Text struct {
		Gemini LegacyProvider `yaml:"gemini"`
	} `yaml:"text"`
	Comic struct {
		TuZi                  LegacyProvider `yaml:"tuZi"`
		GoogleImage           LegacyProvider `yaml:"googleImage"`
		DefaultReferenceImage string         `yaml:"defaultReferenceImage"`
	} `yaml:"comic"`
	RoomSettings                map[string]LegacyRoom `yaml:"roomSettings"`
	DefaultCharacterDescription string                `yaml:"defaultCharacterDescription"`
}

// LegacyProvider is one provider entry of the old shape.
type LegacyProvider struct {
	Enabled   bool   `yaml:"enabled"`
	APIKey    string `yaml:"apiKey"`
	BaseURL   string `yaml:"baseUrl"`
	Model     string `yaml:"model"`
	TextModel string `yaml:"textModel"`
}

// LegacyRoom is one room entry of the old shape.
type LegacyRoom struct {
	CharacterDescription  string `yaml:"characterDescription"`
	ReferenceImage        string `yaml:"referenceImage"`
	EnableComicGeneration *bool  `yaml:"enableComicGeneration"`
	CustomPrompts         struct {
		ComicScript string `yaml:"comicScript"`
		ComicImage  string `yaml:"comicImage"`
	} `yaml:"customPrompts"`
}

// applyLegacy folds the old "ai" shape into the modern one. The modern
// shape is authoritative: a provider is filled from legacy only while it
// carries no API key of its own, and rooms are merged only for IDs the
// modern map does not define. The legacy block is cleared afterwards.
func (c *Config) applyLegacy() {
	l := c.Legacy
	if l == nil {
		return
	}
	c.Legacy = nil

	if c.Providers.Gemini.Key == "" && l.Text.Gemini.APIKey != "" {
		c.Providers.Gemini.Key = l.Text.Gemini.APIKey
		if l.Text.Gemini.Model != "" {
			c.Providers.Gemini.Model = l.Text.Gemini.Model
		}
		if l.Comic.GoogleImage.Model != "" {
			c.Providers.Gemini.ImageModel = l.Comic.GoogleImage.Model
		}
		c.Providers.Gemini.ImageEnabled = l.Comic.GoogleImage.Enabled
	}

	if c.Providers.Tuzi.Key == "" && l.Comic.TuZi.APIKey != "" {
		c.Providers.Tuzi.Key = l.Comic.TuZi.APIKey
		c.Providers.Tuzi.Enabled = l.Comic.TuZi.Enabled
		if l.Comic.TuZi.BaseURL != "" {
			c.Providers.Tuzi.BaseURL = l.Comic.TuZi.BaseURL
		}
		if l.Comic.TuZi.TextModel != "" {
			c.Providers.Tuzi.TextModel = l.Comic.TuZi.TextModel
		}
		if l.Comic.TuZi.Model != "" {
			c.Providers.Tuzi.ImageModel = l.Comic.TuZi.Model
		}
	}

	if c.Reference.DefaultImage == "" && l.Comic.DefaultReferenceImage != "" {
		c.Reference.DefaultImage = l.Comic.DefaultReferenceImage
	}
	if c.DefaultCharacterDescription == "" && l.DefaultCharacterDescription != "" {
		c.DefaultCharacterDescription = l.DefaultCharacterDescription
	}

	for id, lr := range l.RoomSettings {
		if _, ok := c.Rooms[id]; ok {
			continue
		}
		rc := RoomConfig{
			CharacterDescription: lr.CharacterDescription,
			ReferenceImage:       lr.ReferenceImage,
			Prompts: RoomPrompts{
				Script: lr.CustomPrompts.ComicScript,
				Image:  lr.CustomPrompts.ComicImage,
			},
		}
		if lr.EnableComicGeneration != nil && !*lr.EnableComicGeneration {
			rc.Disabled = true
		}
		if c.Rooms == nil {
			c.Rooms = make(map[string]RoomConfig)
		}
		c.Rooms[id] = rc
	}
}
