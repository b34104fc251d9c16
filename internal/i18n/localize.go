package i18n

import (
	"github.com/BurntSushi/toml"
	"github.com/nicksnyder/go-i18n/v2/i18n"
	log "github.com/sirupsen/logrus"
	"golang.org/x/text/language"
)

func RegisterLanguages(files ...string) *i18n.Bundle {
	if len(files) == 0 {
		files = []string{"translations/en.toml"}
	}
	bundle := i18n.NewBundle(language.English)
	bundle.RegisterUnmarshalFunc("toml", toml.Unmarshal)
	bundle.MustLoadMessageFile(files[0])
	for _, f := range files[1:] {
		bundle.LoadMessageFile(f)
	}
	return bundle
}

func NewLocalizer(bundle *i18n.Bundle, langs ...string) *i18n.Localizer {
	langs = append(langs, "en")
	return i18n.NewLocalizer(bundle, langs...)
}

// Translate resolves a message id; on a missing id it falls back to the id
// itself so a hole in the message files never takes down a response.
func Translate(l *i18n.Localizer, messageID string, data map[string]interface{}) string {
	msg, err := l.Localize(&i18n.LocalizeConfig{
		MessageID:    messageID,
		TemplateData: data,
	})
	if err != nil {
		log.Warnf("[i18n] missing message %s: %v", messageID, err)
		return messageID
	}
	return msg
}
