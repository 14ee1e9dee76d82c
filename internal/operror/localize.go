package operror

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

// Message keys. English text doubles as the key so untranslated lookups still read well.
const (
	MsgFailedInstall    = "Failed to Install %s"
	MsgFailedRefresh    = "Failed to Refresh %s"
	MsgFailedUpdate     = "Failed to Update %s"
	MsgFailedActivate   = "Failed to Activate %s"
	MsgFailedDeactivate = "Failed to Deactivate %s"
	MsgFailedBackup     = "Failed to Back Up %s"
	MsgFailedRestore    = "Failed to Restore %s Backup"
	MsgCouldNotVerify   = "Could not verify %s"
	MsgLatestUnknown    = "The latest version of %s could not be determined."
	MsgNotSupported     = "%s cannot be managed through the marketplace."
)

var translations = map[string]map[language.Tag]string{
	MsgFailedInstall:    {language.German: "Installation von %s fehlgeschlagen"},
	MsgFailedRefresh:    {language.German: "Aktualisierung von %s fehlgeschlagen"},
	MsgFailedUpdate:     {language.German: "Update von %s fehlgeschlagen"},
	MsgFailedActivate:   {language.German: "Aktivierung von %s fehlgeschlagen"},
	MsgFailedDeactivate: {language.German: "Deaktivierung von %s fehlgeschlagen"},
	MsgFailedBackup:     {language.German: "Sicherung von %s fehlgeschlagen"},
	MsgFailedRestore:    {language.German: "Wiederherstellung der Sicherung von %s fehlgeschlagen"},
	MsgCouldNotVerify:   {language.German: "%s konnte nicht verifiziert werden"},
	MsgLatestUnknown:    {language.German: "Die neueste Version von %s konnte nicht ermittelt werden."},
	MsgNotSupported:     {language.German: "%s kann nicht über den Marktplatz verwaltet werden."},
}

var messages = newCatalog()

func newCatalog() *catalog.Builder {
	b := catalog.NewBuilder(catalog.Fallback(language.English))
	for key, byLang := range translations {
		_ = b.SetString(language.English, key, key)
		for tag, msg := range byLang {
			_ = b.SetString(tag, key, msg)
		}
	}
	return b
}

// Printer returns a message printer for the given BCP 47 language. Unknown or empty
// languages print English.
func Printer(lang string) *message.Printer {
	tag, err := language.Parse(lang)
	if err != nil {
		tag = language.English
	}
	return message.NewPrinter(tag, message.Catalog(messages))
}
