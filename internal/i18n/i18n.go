package i18n

import (
	"embed"
	"encoding/json"
	"fmt"

	"github.com/nicksnyder/go-i18n/v2/i18n"
	"github.com/tg-antispam-go/internal/config"
	"golang.org/x/text/language"
)

//go:embed locales/*.json
var localesFS embed.FS

// Localizer manages internationalization
type Localizer struct {
	bundle          *i18n.Bundle
	defaultLanguage string
	localizers      map[string]*i18n.Localizer
}

// NewLocalizer creates a new localizer
func NewLocalizer(cfg *config.I18nConfig) (*Localizer, error) {
	bundle := i18n.NewBundle(language.Chinese)
	bundle.RegisterUnmarshalFunc("json", json.Unmarshal)

	languages := cfg.Languages
	if len(languages) == 0 {
		languages = []string{"zh", "en"}
	}

	// Load language files
	for _, lang := range languages {
		if _, err := bundle.LoadMessageFileFS(localesFS, fmt.Sprintf("locales/%s.json", lang)); err != nil {
			return nil, fmt.Errorf("failed to load language file %s: %w", lang, err)
		}
	}

	localizers := make(map[string]*i18n.Localizer)
	for _, lang := range languages {
		localizers[lang] = i18n.NewLocalizer(bundle, lang)
	}

	defaultLanguage := cfg.DefaultLanguage
	if _, ok := localizers[defaultLanguage]; !ok {
		defaultLanguage = languages[0]
	}

	return &Localizer{
		bundle:          bundle,
		defaultLanguage: defaultLanguage,
		localizers:      localizers,
	}, nil
}

// DefaultLanguage returns the language used when none is requested
func (l *Localizer) DefaultLanguage() string {
	return l.defaultLanguage
}

// Get returns localized message
func (l *Localizer) Get(lang, messageID string, data map[string]interface{}) string {
	localizer, exists := l.localizers[lang]
	if !exists {
		localizer = l.localizers[l.defaultLanguage]
	}

	msg, err := localizer.Localize(&i18n.LocalizeConfig{
		MessageID:    messageID,
		TemplateData: data,
	})
	if err != nil {
		return messageID // Fallback to message ID
	}

	return msg
}

// T returns a message in the default language
func (l *Localizer) T(messageID string, data map[string]interface{}) string {
	return l.Get(l.defaultLanguage, messageID, data)
}

// Message IDs
const (
	MsgHelp      = "help"
	MsgAdminOnly = "admin_only"
	MsgError     = "error"

	MsgNoticeDeleted       = "notice_deleted"
	MsgNoticeMuted         = "notice_muted"
	MsgNoticeRemoved       = "notice_removed"
	MsgNoticeEnforceFailed = "notice_enforce_failed"

	MsgAddKeywordsUsage    = "addkw_usage"
	MsgKeywordsAdded       = "keywords_added"
	MsgRemoveKeywordsUsage = "rmkw_usage"
	MsgKeywordsRemoved     = "keywords_removed"
	MsgKeywordsEmpty       = "keywords_empty"
	MsgKeywordsList        = "keywords_list"
	MsgKeywordsMore        = "keywords_more"
	MsgKeywordsCleared     = "keywords_cleared"
	MsgKeywordsExported    = "keywords_exported"
	MsgImportUsage         = "import_usage"
	MsgImportInvalid       = "import_invalid"
	MsgImportDone          = "import_done"

	MsgWarningsList      = "warnings_list"
	MsgWarningsLine      = "warnings_line"
	MsgWarningsNone      = "warnings_none"
	MsgWarningsUser      = "warnings_user"
	MsgWarningsReset     = "warnings_reset"
	MsgWarningsUserReset = "warnings_user_reset"

	MsgClassifierEnabled      = "classifier_enabled"
	MsgClassifierDisabled     = "classifier_disabled"
	MsgClassifierStatus       = "classifier_status"
	MsgClassifierOffline      = "classifier_offline"
	MsgThresholdUsage         = "threshold_usage"
	MsgThresholdInvalid       = "threshold_invalid"
	MsgThresholdSet           = "threshold_set"
	MsgSamplesExported        = "samples_exported"
	MsgSamplesEmpty           = "samples_empty"
	MsgSamplesUsage           = "samples_usage"
	MsgClassifierStateOn      = "state_on"
	MsgClassifierStateOff     = "state_off"
	MsgClassifierStateOnline  = "state_online"
	MsgClassifierStateOffline = "state_offline"
)
