// Copyright 2017 NDP Systèmes. All Rights Reserved.
// See LICENSE file for full licensing details.

package cmd

import (
	"os"
	"path"
	"sort"

	"github.com/hexya-erp/erpkit/src/i18n"
	"github.com/hexya-erp/erpkit/src/server"
	"github.com/hexya-erp/erpkit/src/tools/exceptions"
	"github.com/hexya-erp/erpkit/src/tools/po"
	"github.com/spf13/cobra"
)

var i18nCmd = &cobra.Command{
	Use:   "i18n",
	Short: "Internationalization utilities",
	Long:  `Internationalization utilities for erpkit modules`,
}

var i18nExportCmd = &cobra.Command{
	Use:   "export MODULE LANG",
	Short: "Export the translatable strings of a module",
	Long: `Write a PO file with the translatable strings of MODULE for the language LANG.
Field labels, help texts, selection values, view labels, action and menu
names declared by the module are exported. Translations already shipped in the
module i18n/LANG.po file are kept. The database is not used.`,
	Args: exactArgs(2, "a module name and a language code"),
	RunE: func(cmd *cobra.Command, args []string) error {
		module, lang := args[0], args[1]
		if _, err := i18n.ParseLang(lang); err != nil {
			return exceptions.Validation("invalid_lang", "invalid language %s: %s", lang, err)
		}
		b, err := server.NewLoader(server.Modules, nil).Describe([]string{module})
		if err != nil {
			return err
		}
		existing, err := moduleTranslations(server.Modules.Get(module), lang)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if output, _ := cmd.Flags().GetString("output"); output != "" {
			f, err := os.Create(output)
			if err != nil {
				return err
			}
			defer f.Close()
			out = f
		}
		return exportTranslations(b, module, lang, existing).Write(out)
	},
}

// moduleTranslations returns the messages of the i18n/<lang>.po file of mod,
// if any.
func moduleTranslations(mod *server.Module, lang string) ([]po.Message, error) {
	if mod.Resources == nil {
		return nil, nil
	}
	f, err := mod.Resources.Open(path.Join("i18n", lang+".po"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()
	file, err := po.Parse(f)
	if err != nil {
		return nil, err
	}
	return file.Messages, nil
}

type poKey struct {
	context string
	id      string
}

// exportTranslations returns the PO file of the translatable strings of
// module in b. Messages of existing keep their translation and messages
// without context are kept as is.
func exportTranslations(b *server.Bundle, module, lang string, existing []po.Message) *po.File {
	known := make(map[poKey]string, len(existing))
	res := &po.File{Language: lang}
	for _, msg := range existing {
		known[poKey{msg.Context, msg.ID}] = msg.Str
		if msg.Context == "" {
			res.Messages = append(res.Messages, msg)
		}
	}
	seen := make(map[poKey]bool)
	add := func(context, id string) {
		key := poKey{context, id}
		if id == "" || seen[key] {
			return
		}
		seen[key] = true
		res.Messages = append(res.Messages, po.Message{Context: context, ID: id, Str: known[key]})
	}
	for _, model := range b.Registry.Models() {
		for _, fi := range model.Fields() {
			if fi.Module() != module {
				continue
			}
			ref := model.Name() + "." + fi.Name()
			add("field:"+ref, fi.String())
			add("help:"+ref, fi.Help())
			sel := fi.Selection()
			keys := make([]string, 0, len(sel))
			for k := range sel {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				add("selection:"+ref, sel[k])
			}
		}
	}
	for _, view := range b.Views.GetAll() {
		if view.Module != module {
			continue
		}
		for _, attr := range view.TranslatableStrings() {
			add("resource:"+view.ID, attr.Value)
		}
	}
	for _, action := range b.Actions.GetAll() {
		if action.Module != module {
			continue
		}
		add("resource:"+action.XMLID, action.Name)
	}
	for _, menu := range b.Menus.All() {
		if menu.Module != module || (menu.Action != nil && menu.Name == menu.Action.Name) {
			continue
		}
		add("resource:"+menu.XMLID, menu.Name)
	}
	return res
}

func init() {
	i18nExportCmd.Flags().StringP("output", "O", "", "File to write the PO file to. Defaults to stdout")
	RootCmd.AddCommand(i18nCmd)
	i18nCmd.AddCommand(i18nExportCmd)
}
