// Copyright 2017 NDP Systèmes. All Rights Reserved.
// See LICENSE file for full licensing details.

// Package po reads and writes gettext PO translation files.
//
// Only the subset used by translation catalogs is supported: message
// contexts, ids and translated strings. Plural forms keep their first
// translation.
package po

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var (
	reMsgContext   = regexp.MustCompile(`^msgctxt\s+(".*")\s*$`)
	reMsgID        = regexp.MustCompile(`^msgid\s+(".*")\s*$`)
	reMsgIDPlural  = regexp.MustCompile(`^msgid_plural\s+(".*")\s*$`)
	reMsgStr       = regexp.MustCompile(`^msgstr\s*(".*")\s*$`)
	reMsgStrPlural = regexp.MustCompile(`^msgstr\[(\d+)\]\s*(".*")\s*$`)
	reStringLine   = regexp.MustCompile(`^\s*(".*")\s*$`)
)

// A Message is a single translation entry
type Message struct {
	Context string
	ID      string
	Str     string
}

// A File is a parsed PO file
type File struct {
	// Language is written in the header entry
	Language string
	Messages []Message
}

type target int

const (
	targetNone target = iota
	targetContext
	targetID
	targetIDPlural
	targetStr
	targetStrPluralOther
)

// Parse reads a PO file from r. The header entry (empty msgid) is skipped.
func Parse(r io.Reader) (*File, error) {
	var (
		res     File
		current Message
		cur     = targetNone
		started bool
		lineNb  int
	)
	flush := func() {
		if started && current.ID != "" {
			res.Messages = append(res.Messages, current)
		}
		current = Message{}
		started = false
	}
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		lineNb++
		line := strings.TrimSpace(scanner.Text())
		var (
			match []string
			err   error
		)
		switch {
		case line == "" || strings.HasPrefix(line, "#"):
			continue
		case reMsgContext.MatchString(line):
			if cur == targetStr || cur == targetStrPluralOther {
				flush()
			}
			match = reMsgContext.FindStringSubmatch(line)
			current.Context, err = strconv.Unquote(match[1])
			cur, started = targetContext, true
		case reMsgID.MatchString(line):
			if cur == targetStr || cur == targetStrPluralOther {
				flush()
			}
			match = reMsgID.FindStringSubmatch(line)
			current.ID, err = strconv.Unquote(match[1])
			cur, started = targetID, true
		case reMsgIDPlural.MatchString(line):
			cur = targetIDPlural
		case reMsgStr.MatchString(line):
			match = reMsgStr.FindStringSubmatch(line)
			current.Str, err = strconv.Unquote(match[1])
			cur = targetStr
		case reMsgStrPlural.MatchString(line):
			match = reMsgStrPlural.FindStringSubmatch(line)
			if match[1] == "0" {
				current.Str, err = strconv.Unquote(match[2])
				cur = targetStr
			} else {
				cur = targetStrPluralOther
			}
		case reStringLine.MatchString(line):
			match = reStringLine.FindStringSubmatch(line)
			var str string
			str, err = strconv.Unquote(match[1])
			switch cur {
			case targetContext:
				current.Context += str
			case targetID:
				current.ID += str
			case targetStr:
				current.Str += str
			}
		default:
			return nil, fmt.Errorf("invalid PO line %d: %s", lineNb, line)
		}
		if err != nil {
			return nil, fmt.Errorf("invalid PO string at line %d: %s", lineNb, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	flush()
	return &res, nil
}

// Write writes f to w in PO format, messages being sorted by context then
// id.
func (f *File) Write(w io.Writer) error {
	msgs := append([]Message(nil), f.Messages...)
	sort.SliceStable(msgs, func(i, j int) bool {
		if msgs[i].Context != msgs[j].Context {
			return msgs[i].Context < msgs[j].Context
		}
		return msgs[i].ID < msgs[j].ID
	})
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "msgid \"\"\nmsgstr \"\"\n%s\n%s\n",
		strconv.Quote(fmt.Sprintf("Language: %s\n", f.Language)),
		strconv.Quote("Content-Type: text/plain; charset=UTF-8\n"))
	for _, m := range msgs {
		bw.WriteString("\n")
		if m.Context != "" {
			fmt.Fprintf(bw, "msgctxt %s\n", strconv.Quote(m.Context))
		}
		fmt.Fprintf(bw, "msgid %s\nmsgstr %s\n", strconv.Quote(m.ID), strconv.Quote(m.Str))
	}
	return bw.Flush()
}
