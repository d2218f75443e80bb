// Copyright 2017 NDP Systèmes. All Rights Reserved.
// See LICENSE file for full licensing details.

package models

import (
	"encoding/csv"
	"io"
	"io/fs"
	"path"
	"strings"

	"github.com/beevik/etree"
	"github.com/hexya-erp/erpkit/src/models/fieldtype"
	"github.com/hexya-erp/erpkit/src/tools/exceptions"
	"github.com/hexya-erp/erpkit/src/tools/strutils"
	"github.com/pkg/errors"
)

// An ExternalID is a module scoped identifier of a record
type ExternalID struct {
	ID       int64
	Module   string
	Name     string
	Model    string
	ResID    int64
	NoUpdate bool
}

// String returns the "module.name" form of this external id
func (x ExternalID) String() string {
	return x.Module + "." + x.Name
}

// LookupExternalID returns the external id "module.name" or false if it
// does not exist. A name without module is searched in defaultModule.
func (env Environment) LookupExternalID(xmlID, defaultModule string) (ExternalID, bool, error) {
	module, name := strutils.SplitXMLID(xmlID, defaultModule)
	var rows []struct {
		ID       int64  `db:"id"`
		Model    string `db:"model"`
		ResID    int64  `db:"res_id"`
		NoUpdate bool   `db:"noupdate"`
	}
	mi := env.registry.MustGet(ModelDataModel)
	query := "SELECT id, model, res_id, noupdate FROM " + env.registry.db.adapter.quoteTableName(mi.table) +
		" WHERE module = ? AND name = ?"
	if err := env.cr.Select(&rows, query, module, name); err != nil {
		return ExternalID{}, false, err
	}
	if len(rows) == 0 {
		return ExternalID{Module: module, Name: name}, false, nil
	}
	return ExternalID{
		ID:       rows[0].ID,
		Module:   module,
		Name:     name,
		Model:    rows[0].Model,
		ResID:    rows[0].ResID,
		NoUpdate: rows[0].NoUpdate,
	}, true, nil
}

// Ref returns the record with the given external id. It returns a
// NotFound error if the external id or its record does not exist.
func (env Environment) Ref(xmlID string) (*RecordCollection, error) {
	xid, ok, err := env.LookupExternalID(xmlID, "")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, exceptions.NotFound("unknown_xmlid", "External id %s does not exist", xmlID)
	}
	rc, err := env.Model(xid.Model)
	if err != nil {
		return nil, err
	}
	rc = rc.Browse(xid.ResID)
	existing, err := rc.existingIDs()
	if err != nil {
		return nil, err
	}
	if len(existing) == 0 {
		return nil, exceptions.NotFound("missing_record", "Record of external id %s has been deleted", xmlID)
	}
	return rc, nil
}

// SetExternalID creates or updates the external id module.name so that
// it points to the single record rec.
func (env Environment) SetExternalID(module, name string, rec *RecordCollection, noUpdate bool) error {
	if err := rec.EnsureOne(); err != nil {
		return err
	}
	xid, ok, err := env.LookupExternalID(module+"."+name, module)
	if err != nil {
		return err
	}
	data := env.Sudo().Pool(ModelDataModel)
	vals := FieldMap{"model": rec.ModelName(), "res_id": rec.ID(), "noupdate": noUpdate}
	if ok {
		return data.Browse(xid.ID).Write(vals)
	}
	vals["module"], vals["name"] = module, name
	_, err = data.Create(vals)
	return err
}

// ExternalIDsOf returns the external ids of the records of rc, by record id
func ExternalIDsOf(rc *RecordCollection) (map[int64][]string, error) {
	res := make(map[int64][]string)
	if rc.IsEmpty() {
		return res, nil
	}
	cond := NewCondition().And().Field("model").Equals(rc.ModelName()).And().Field("res_id").In(rc.Ids())
	rows, err := rc.env.Sudo().Pool(ModelDataModel).search(SearchParams{Condition: cond})
	if err != nil {
		return nil, err
	}
	vals, err := rows.read([]string{"module", "name", "res_id"})
	if err != nil {
		return nil, err
	}
	for _, v := range vals {
		id := v["res_id"].(int64)
		res[id] = append(res[id], v["module"].(string)+"."+v["name"].(string))
	}
	return res, nil
}

// A DataLoader loads the XML and CSV data files of a module. Files are
// read from FS and records are created as superuser.
type DataLoader struct {
	env    Environment
	module string
	fsys   fs.FS
	update bool
}

// NewDataLoader returns a loader of the data files of module found in
// fsys. If update is true, the module is being upgraded and records of
// noupdate external ids are left untouched.
func NewDataLoader(env Environment, module string, fsys fs.FS, update bool) *DataLoader {
	return &DataLoader{env: env.Sudo(), module: module, fsys: fsys, update: update}
}

// LoadFile loads the given data file inside a savepoint. The format is
// deduced from the file extension.
func (dl *DataLoader) LoadFile(fileName string) error {
	log.Info("Importing data file", "module", dl.module, "fileName", fileName)
	err := dl.env.Savepoint(func(env Environment) error {
		loader := *dl
		loader.env = env
		switch strings.ToLower(path.Ext(fileName)) {
		case ".xml":
			return loader.loadXML(fileName)
		case ".csv":
			return loader.loadCSV(fileName)
		}
		return exceptions.Validation("invalid_data_file", "Unknown data file format %s", fileName)
	})
	if err != nil {
		return errors.Wrapf(err, "error while loading %s/%s", dl.module, fileName)
	}
	log.Debug("Data file imported successfully", "module", dl.module, "fileName", fileName)
	return nil
}

// ref returns the record id of the given external id
func (dl *DataLoader) ref(xmlID string) (int64, error) {
	xid, ok, err := dl.env.LookupExternalID(strings.TrimSpace(xmlID), dl.module)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, exceptions.NotFound("unknown_xmlid", "External id %s does not exist", xid)
	}
	return xid.ResID, nil
}

// refs returns the record ids of the given comma separated external ids
func (dl *DataLoader) refs(xmlIDs string) ([]int64, error) {
	res := []int64{}
	for _, xmlID := range strings.Split(xmlIDs, ",") {
		if strings.TrimSpace(xmlID) == "" {
			continue
		}
		id, err := dl.ref(xmlID)
		if err != nil {
			return nil, err
		}
		res = append(res, id)
	}
	return res, nil
}

// upsertRecord creates or updates the record with the given external id
func (dl *DataLoader) upsertRecord(model, xmlID string, values FieldMap, noUpdate, forceCreate bool) error {
	rc, err := dl.env.Model(model)
	if err != nil {
		return err
	}
	if xmlID == "" {
		_, err = rc.Create(values)
		return err
	}
	module, name := strutils.SplitXMLID(xmlID, dl.module)
	xid, ok, err := dl.env.LookupExternalID(xmlID, dl.module)
	if err != nil {
		return err
	}
	if ok {
		if xid.Model != model {
			return exceptions.Conflict("xmlid_model", "External id %s already points to a record of %s", xid, xid.Model)
		}
		rec := rc.Browse(xid.ResID)
		existing, err := rec.existingIDs()
		if err != nil {
			return err
		}
		switch {
		case len(existing) == 1 && dl.update && xid.NoUpdate:
			return nil
		case len(existing) == 1:
			if err := rec.Write(values); err != nil {
				return err
			}
			return dl.env.SetExternalID(module, name, rec, noUpdate)
		case !forceCreate:
			return nil
		}
	}
	rec, err := rc.Create(values)
	if err != nil {
		return err
	}
	return dl.env.SetExternalID(module, name, rec, noUpdate)
}

// deleteRecord deletes the record with the given external id if it exists
func (dl *DataLoader) deleteRecord(xmlID string) error {
	xid, ok, err := dl.env.LookupExternalID(xmlID, dl.module)
	if err != nil || !ok {
		return err
	}
	rc, err := dl.env.Model(xid.Model)
	if err != nil {
		return err
	}
	existing, err := rc.Browse(xid.ResID).existingIDs()
	if err != nil || len(existing) == 0 {
		return err
	}
	return rc.Browse(existing...).Unlink()
}

// textValue converts the text of a data file cell into a value of fi
func (dl *DataLoader) textValue(fi *Field, text string) (interface{}, error) {
	switch {
	case fi.fieldType == fieldtype.Many2One:
		if strings.TrimSpace(text) == "" {
			return nil, nil
		}
		return dl.ref(text)
	case fi.fieldType.Is2ManyRelationType():
		return dl.refs(text)
	case fi.fieldType == fieldtype.Binary:
		return dl.readBinary(text)
	case fi.fieldType == fieldtype.Boolean:
		return strutils.ParseBool(text), nil
	case fi.fieldType.IsNumeric() && strings.TrimSpace(text) == "":
		return nil, nil
	}
	return text, nil
}

// readBinary returns the content of the given file of the module
func (dl *DataLoader) readBinary(fileName string) ([]byte, error) {
	if fileName == "" {
		return nil, nil
	}
	data, err := fs.ReadFile(dl.fsys, fileName)
	if err != nil {
		return nil, exceptions.System("data_file", err)
	}
	return data, nil
}

// loadXML loads an XML data file. Records are read from <data> elements
// or directly from the root element.
func (dl *DataLoader) loadXML(fileName string) error {
	content, err := fs.ReadFile(dl.fsys, fileName)
	if err != nil {
		return exceptions.System("data_file", err)
	}
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(content); err != nil {
		return exceptions.Validation("invalid_xml", "Invalid XML in %s: %s", fileName, err)
	}
	root := doc.Root()
	if root == nil {
		return nil
	}
	blocks := []*etree.Element{root}
	if root.Tag != "data" {
		blocks = append(blocks, root.SelectElements("data")...)
	}
	for _, block := range blocks {
		noUpdate := strutils.ParseBool(block.SelectAttrValue("noupdate", "false"))
		for _, elt := range block.ChildElements() {
			switch elt.Tag {
			case "record":
				err = dl.loadXMLRecord(elt, noUpdate)
			case "delete":
				err = dl.deleteRecord(elt.SelectAttrValue("id", ""))
			case "data":
				continue
			default:
				err = exceptions.Validation("invalid_xml", "Unknown element <%s> in %s", elt.Tag, fileName)
			}
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// loadXMLRecord loads a <record> element
func (dl *DataLoader) loadXMLRecord(elt *etree.Element, noUpdate bool) error {
	model := elt.SelectAttrValue("model", "")
	mi := dl.env.registry.Get(model)
	if mi == nil {
		return exceptions.NotFound("unknown_model", "Unknown model %s", model)
	}
	values := make(FieldMap)
	for _, fElt := range elt.SelectElements("field") {
		name := fElt.SelectAttrValue("name", "")
		fi := mi.fields[name]
		if fi == nil {
			return exceptions.Validation("unknown_field", "Unknown field %s in model %s", name, model)
		}
		var (
			val interface{}
			err error
		)
		switch {
		case fElt.SelectAttr("ref") != nil:
			val, err = dl.textValue(fi, fElt.SelectAttrValue("ref", ""))
		case fElt.SelectAttr("eval") != nil:
			val, err = evalLiteral(fElt.SelectAttrValue("eval", ""), dl.ref)
		case fElt.SelectAttr("file") != nil:
			val, err = dl.readBinary(fElt.SelectAttrValue("file", ""))
		case len(fElt.ChildElements()) > 0:
			val = innerXML(fElt)
		default:
			val, err = dl.textValue(fi, fElt.Text())
		}
		if err != nil {
			return err
		}
		values[name] = val
	}
	return dl.upsertRecord(model, elt.SelectAttrValue("id", ""), values, noUpdate,
		strutils.ParseBool(elt.SelectAttrValue("forcecreate", "true")))
}

// innerXML returns the XML content of the given element
func innerXML(elt *etree.Element) string {
	doc := etree.NewDocument()
	cp := elt.Copy()
	children := append([]etree.Token(nil), cp.Child...)
	for _, child := range children {
		doc.AddChild(child)
	}
	s, _ := doc.WriteToString()
	return s
}

// loadCSV loads a CSV data file named after its model ("model.name.csv"
// or "model.name_update.csv" to rewrite records on upgrade). The "id"
// column holds external ids and "field:id" or "field/id" columns hold
// references by external id.
func (dl *DataLoader) loadCSV(fileName string) error {
	base := strings.TrimSuffix(path.Base(fileName), path.Ext(fileName))
	forceUpdate := strings.HasSuffix(base, "_update")
	model := strings.TrimLeft(strings.TrimSuffix(base, "_update"), "0123456789-_")
	mi := dl.env.registry.Get(model)
	if mi == nil {
		return exceptions.NotFound("unknown_model", "Unknown model %s for data file %s", model, fileName)
	}
	f, err := dl.fsys.Open(fileName)
	if err != nil {
		return exceptions.System("data_file", err)
	}
	defer f.Close()
	r := csv.NewReader(f)
	headers, err := r.Read()
	if err != nil {
		return exceptions.Validation("invalid_csv", "Unable to read CSV headers of %s: %s", fileName, err)
	}
	line := 1
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return exceptions.Validation("invalid_csv", "Invalid CSV line %d in %s: %s", line, fileName, err)
		}
		var xmlID string
		values := make(FieldMap)
		for i, header := range headers {
			if i >= len(record) {
				break
			}
			if header == "id" {
				xmlID = record[i]
				continue
			}
			name := strings.TrimSuffix(strings.TrimSuffix(header, ":id"), "/id")
			fi := mi.fields[name]
			if fi == nil {
				return exceptions.Validation("unknown_field", "Unknown field %s in model %s (%s line %d)", name, model, fileName, line)
			}
			val, err := dl.textValue(fi, record[i])
			if err != nil {
				return err
			}
			values[name] = val
		}
		loader := *dl
		if forceUpdate {
			loader.update = false
		}
		if err := loader.upsertRecord(model, xmlID, values, false, true); err != nil {
			return err
		}
	}
	return nil
}
