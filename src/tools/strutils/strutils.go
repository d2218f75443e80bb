// Copyright 2016 NDP Systèmes. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package strutils

import (
	"encoding/json"
	"strings"
	"unicode"
)

// SnakeCase converts the given string to snake case. Dots and dashes
// are turned into underscores and camel case words are split.
//
// eg. res.partner => res_partner, MyHTMLData => my_html_data
func SnakeCase(in string) string {
	runes := []rune(in)
	length := len(runes)

	var out []rune
	for i := 0; i < length; i++ {
		switch {
		case runes[i] == '.' || runes[i] == '-' || runes[i] == ' ':
			out = append(out, '_')
			continue
		case i > 0 && unicode.IsUpper(runes[i]) && ((i+1 < length && unicode.IsLower(runes[i+1])) || unicode.IsLower(runes[i-1])):
			if out[len(out)-1] != '_' {
				out = append(out, '_')
			}
		}
		out = append(out, unicode.ToLower(runes[i]))
	}
	return string(out)
}

// Title converts the given snake case field name into a human label.
// A trailing _id or _ids is removed.
//
// eg. partner_id => Partner, date_deadline => Date Deadline
func Title(in string) string {
	in = strings.TrimSuffix(in, "_ids")
	in = strings.TrimSuffix(in, "_id")
	words := strings.Split(in, "_")
	for i, w := range words {
		if w == "" {
			continue
		}
		r := []rune(w)
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}

// GetDefaultString returns str if it is not an empty string or def otherwise
func GetDefaultString(str, def string) string {
	if str == "" {
		return def
	}
	return str
}

// MarshalToJSONString marshals the given data to its JSON representation and
// returns it as a string. It returns "{}" if data cannot be marshalled.
func MarshalToJSONString(data interface{}) string {
	res, err := json.Marshal(data)
	if err != nil {
		return "{}"
	}
	return string(res)
}

// IsIn checks if the given str is in the given lst.
func IsIn(str string, lst ...string) bool {
	for _, s := range lst {
		if s == str {
			return true
		}
	}
	return false
}

// SplitXMLID splits a module.name external id. If there is no dot,
// module is the given default module.
func SplitXMLID(xmlID, defaultModule string) (module, name string) {
	if i := strings.Index(xmlID, "."); i > 0 {
		return xmlID[:i], xmlID[i+1:]
	}
	return defaultModule, xmlID
}

// ParseBool returns true for "1", "true", "True", "yes" and false otherwise.
func ParseBool(str string) bool {
	return IsIn(strings.ToLower(strings.TrimSpace(str)), "1", "true", "yes", "y")
}
