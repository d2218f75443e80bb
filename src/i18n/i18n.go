// Copyright 2017 NDP Systèmes. All Rights Reserved.
// See LICENSE file for full licensing details.

// Package i18n holds the translations of the application.
//
// Translations are read from the i18n/<lang>.po files of the modules.
// The message context (msgctxt) of an entry tells what is translated:
//
//	field:<model>.<field>       the label of a field
//	help:<model>.<field>        the help of a field
//	selection:<model>.<field>   a selection item label
//	resource:<resource_id>      a string of a view or an action
//
// Entries without context are code messages such as error messages.
// They are stored in a golang.org/x/text catalog so that they can be
// formatted with arguments.
package i18n

import (
	"fmt"
	"io"
	"io/fs"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/hexya-erp/erpkit/src/models/types"
	"github.com/hexya-erp/erpkit/src/tools/po"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

const fieldSep string = "."

// Registry holds all the translation of the application
var Registry *TranslationsCollection

// A TranslationsCollection holds all the translations of the application
type TranslationsCollection struct {
	sync.RWMutex
	langs            []language.Tag
	matcher          language.Matcher
	code             *catalog.Builder
	fieldDescription map[fieldRef]string
	fieldHelp        map[fieldRef]string
	fieldSelection   map[selectionRef]string
	resource         map[resourceRef]string
}

// NewTranslationsCollection returns a pointer to a new TranslationsCollection ready for use
func NewTranslationsCollection() *TranslationsCollection {
	return &TranslationsCollection{
		code:             catalog.NewBuilder(catalog.Fallback(language.English)),
		fieldDescription: make(map[fieldRef]string),
		fieldHelp:        make(map[fieldRef]string),
		fieldSelection:   make(map[selectionRef]string),
		resource:         make(map[resourceRef]string),
	}
}

// ParseLang returns the language tag of the given language code.
// Codes such as "fr_FR" are accepted.
func ParseLang(lang string) (language.Tag, error) {
	return language.Parse(strings.Replace(lang, "_", "-", -1))
}

// Languages returns the codes of the languages with translations, sorted
func (tc *TranslationsCollection) Languages() []string {
	tc.RLock()
	defer tc.RUnlock()
	res := make([]string, len(tc.langs))
	for i, t := range tc.langs {
		res[i] = t.String()
	}
	sort.Strings(res)
	return res
}

// match returns the code of the loaded language that best matches lang, or
// the empty string if none matches.
func (tc *TranslationsCollection) match(lang string) string {
	if lang == "" {
		return ""
	}
	tag, err := ParseLang(lang)
	if err != nil {
		return ""
	}
	tc.RLock()
	defer tc.RUnlock()
	if len(tc.langs) == 0 {
		return ""
	}
	_, index, confidence := tc.matcher.Match(tag)
	if confidence == language.No {
		return ""
	}
	return tc.langs[index].String()
}

// addLang registers the given language tag in the matcher
func (tc *TranslationsCollection) addLang(tag language.Tag) {
	for _, t := range tc.langs {
		if t == tag {
			return
		}
	}
	tc.langs = append(tc.langs, tag)
	tc.matcher = language.NewMatcher(tc.langs)
}

// TranslateFieldDescription returns the translation for the given model field
// name in the given lang. If no translation is found or if the translation
// is the empty string defaultValue is returned.
func (tc *TranslationsCollection) TranslateFieldDescription(lang, model, field, defaultValue string) string {
	key := fieldRef{lang: tc.match(lang), model: model, field: field}
	tc.RLock()
	defer tc.RUnlock()
	val, ok := tc.fieldDescription[key]
	if !ok || val == "" {
		return defaultValue
	}
	return val
}

// TranslateFieldHelp returns the translation for the given model field
// help in the given lang. If no translation is found or if the translation
// is the empty string defaultValue is returned.
func (tc *TranslationsCollection) TranslateFieldHelp(lang, model, field, defaultValue string) string {
	key := fieldRef{lang: tc.match(lang), model: model, field: field}
	tc.RLock()
	defer tc.RUnlock()
	val, ok := tc.fieldHelp[key]
	if !ok || val == "" {
		return defaultValue
	}
	return val
}

// TranslateFieldSelection returns the translated version of the given selection in the given lang.
// When no translation is found for an item, the original string is used.
func (tc *TranslationsCollection) TranslateFieldSelection(lang, model, field string, selection types.Selection) types.Selection {
	matched := tc.match(lang)
	tc.RLock()
	defer tc.RUnlock()
	res := make(types.Selection)
	for selKey, selItem := range selection {
		key := selectionRef{lang: matched, model: model, field: field, source: selItem}
		val, ok := tc.fieldSelection[key]
		if !ok || val == "" {
			res[selKey] = selItem
			continue
		}
		res[selKey] = val
	}
	return res
}

// TranslateResourceItem returns the translation for the given src of the given resource
// in the given lang. If no translation is found or if the translation is the
// empty string src is returned.
func (tc *TranslationsCollection) TranslateResourceItem(lang, resourceID, src string) string {
	key := resourceRef{lang: tc.match(lang), id: resourceID, source: src}
	tc.RLock()
	defer tc.RUnlock()
	val, ok := tc.resource[key]
	if !ok || val == "" {
		return src
	}
	return val
}

// TranslateCode returns the given message format translated in the given
// lang and formatted with args. If no translation is found, src itself
// is formatted.
func (tc *TranslationsCollection) TranslateCode(lang, src string, args ...interface{}) string {
	matched := tc.match(lang)
	if matched == "" {
		if len(args) == 0 {
			return src
		}
		return fmt.Sprintf(src, args...)
	}
	tc.RLock()
	defer tc.RUnlock()
	p := message.NewPrinter(language.MustParse(matched), message.Catalog(tc.code))
	return p.Sprintf(src, args...)
}

// LoadPO loads the PO translations of the given language read from r into
// the TranslationsCollection. This method can be called several times to
// iteratively load translations.
func (tc *TranslationsCollection) LoadPO(lang string, r io.Reader) error {
	tag, err := ParseLang(lang)
	if err != nil {
		return fmt.Errorf("invalid language %s: %s", lang, err)
	}
	poFile, err := po.Parse(r)
	if err != nil {
		return err
	}
	tc.Lock()
	defer tc.Unlock()
	tc.addLang(tag)
	code := tag.String()
	for _, msg := range poFile.Messages {
		if msg.Str == "" {
			continue
		}
		kind, ref := msg.Context, ""
		if i := strings.Index(msg.Context, ":"); i >= 0 {
			kind, ref = msg.Context[:i], strings.TrimSpace(msg.Context[i+1:])
		}
		switch kind {
		case "field", "help", "selection":
			i := strings.LastIndex(ref, fieldSep)
			if i <= 0 || i == len(ref)-1 {
				log.Warn("Invalid field reference in PO context", "lang", lang, "context", msg.Context)
				continue
			}
			fRef := fieldRef{lang: code, model: ref[:i], field: ref[i+1:]}
			switch kind {
			case "field":
				tc.fieldDescription[fRef] = msg.Str
			case "help":
				tc.fieldHelp[fRef] = msg.Str
			default:
				tc.fieldSelection[selectionRef{lang: code, model: fRef.model, field: fRef.field, source: msg.ID}] = msg.Str
			}
		case "resource":
			tc.resource[resourceRef{lang: code, id: ref, source: msg.ID}] = msg.Str
		case "":
			if err := tc.code.SetString(tag, msg.ID, msg.Str); err != nil {
				return fmt.Errorf("invalid translation of %q: %s", msg.ID, err)
			}
		default:
			log.Warn("Unknown PO message context", "lang", lang, "context", msg.Context)
		}
	}
	return nil
}

// LoadModuleTranslations loads all the i18n/<lang>.po files found in fsys
func (tc *TranslationsCollection) LoadModuleTranslations(fsys fs.FS) error {
	files, err := fs.Glob(fsys, "i18n/*.po")
	if err != nil {
		return err
	}
	for _, fileName := range files {
		f, err := fsys.Open(fileName)
		if err != nil {
			return err
		}
		lang := strings.TrimSuffix(path.Base(fileName), ".po")
		err = tc.LoadPO(lang, f)
		f.Close()
		if err != nil {
			return fmt.Errorf("error while loading %s: %s", fileName, err)
		}
	}
	return nil
}

// TranslateFieldDescription returns the translation for the given model field
// name in the given lang, using the default translation Registry. If no
// translation is found or if the translation is the empty string defaultValue
// is returned.
func TranslateFieldDescription(lang, model, field, defaultValue string) string {
	return Registry.TranslateFieldDescription(lang, model, field, defaultValue)
}

// TranslateFieldHelp returns the translation for the given model field
// help in the given lang, using the default translation Registry.
func TranslateFieldHelp(lang, model, field, defaultValue string) string {
	return Registry.TranslateFieldHelp(lang, model, field, defaultValue)
}

// TranslateFieldSelection returns the translated version of the given selection
// in the given lang, using the default translation Registry.
func TranslateFieldSelection(lang, model, field string, selection types.Selection) types.Selection {
	return Registry.TranslateFieldSelection(lang, model, field, selection)
}

// TranslateResourceItem returns the translation for the given src of the given resource
// in the given lang using the default translation Registry.
func TranslateResourceItem(lang, resourceID, src string) string {
	return Registry.TranslateResourceItem(lang, resourceID, src)
}

// TranslateCode returns the given message format translated in the given
// lang using the default translation Registry.
func TranslateCode(lang, src string, args ...interface{}) string {
	return Registry.TranslateCode(lang, src, args...)
}

// A fieldRef references a field in the translation maps
type fieldRef struct {
	lang  string
	model string
	field string
}

// A selectionRef references a selection item translation
type selectionRef struct {
	lang   string
	model  string
	field  string
	source string
}

// A resourceRef references a text translation in a resource
type resourceRef struct {
	lang   string
	id     string
	source string
}

// Translate is an alias of TranslateCode
func Translate(lang, msg string, args ...interface{}) string {
	return Registry.TranslateCode(lang, msg, args...)
}
