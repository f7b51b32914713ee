package notion

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/jomei/notionapi"
)

// PropertySchema describes one database column.
type PropertySchema struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
}

// Kind tags a decoded record.
type Kind string

const (
	KindTask    Kind = "task"
	KindSession Kind = "session"
	KindSchema  Kind = "schema"
)

// Record is a remote object decoded at the boundary: a Task, Session or Schema.
type Record interface {
	Kind() Kind
	RecordID() string
}

// Task is a page in the task database.
type Task struct {
	ID         string
	Title      string
	Status     string
	SessionIDs []string
	LastEdited time.Time
}

func (Task) Kind() Kind { return KindTask }
func (t Task) RecordID() string { return t.ID }

// Session is one tracked interval. Start or End is nil when the property is
// empty or missing on the remote record.
type Session struct {
	ID     string
	TaskID string
	Start  *time.Time
	End    *time.Time
}

func (Session) Kind() Kind { return KindSession }
func (s Session) RecordID() string { return s.ID }

// Active reports whether the session has started but not ended.
func (s Session) Active() bool {
	return s.Start != nil && s.End == nil
}

// Duration is End-Start for closed sessions, zero otherwise.
func (s Session) Duration() time.Duration {
	if s.Start == nil || s.End == nil || s.End.Before(*s.Start) {
		return 0
	}
	return s.End.Sub(*s.Start)
}

// Schema is a database and its properties keyed by name.
type Schema struct {
	ID         string
	Title      string
	Properties map[string]PropertySchema
}

func (Schema) Kind() Kind { return KindSchema }
func (s Schema) RecordID() string { return s.ID }

// PropertiesOfType lists properties of one type, sorted by name.
func (s Schema) PropertiesOfType(propType string) []PropertySchema {
	var out []PropertySchema
	for _, p := range s.Properties {
		if p.Type == propType {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Mapping names the properties a page is decoded with.
type Mapping struct {
	TaskStatus   string
	TaskSessions string
	SessionTask  string
	SessionStart string
	SessionEnd   string
}

// Decode turns an API object into a Record of the requested kind. obj is a
// notionapi Page or Database (value or pointer), or raw JSON. Missing or
// mistyped properties decode as empty values.
func Decode(kind Kind, obj any, m Mapping) (Record, error) {
	switch kind {
	case KindSchema:
		var db notionapi.Database
		switch v := obj.(type) {
		case *notionapi.Database:
			db = *v
		case notionapi.Database:
			db = v
		default:
			if err := remarshal(obj, &db); err != nil {
				return nil, fmt.Errorf("decode database: %w", err)
			}
		}
		return schemaOf(db), nil
	case KindTask, KindSession:
		var p notionapi.Page
		switch v := obj.(type) {
		case *notionapi.Page:
			p = *v
		case notionapi.Page:
			p = v
		default:
			if err := remarshal(obj, &p); err != nil {
				return nil, fmt.Errorf("decode page: %w", err)
			}
		}
		if kind == KindTask {
			return decodeTask(p, m), nil
		}
		return decodeSession(p, m), nil
	default:
		return nil, fmt.Errorf("unknown record kind %q", kind)
	}
}

// remarshal decodes raw JSON, or any other API object via its JSON form.
func remarshal(obj any, out any) error {
	data, ok := obj.([]byte)
	if !ok {
		if obj == nil {
			return errors.New("nil object")
		}
		var err error
		if data, err = json.Marshal(obj); err != nil {
			return err
		}
	}
	return json.Unmarshal(data, out)
}

// schemaOf converts a database object. Property configs are distinct types
// per column type; their id and type are read from the shared JSON fields.
func schemaOf(db notionapi.Database) Schema {
	props := make(map[string]PropertySchema, len(db.Properties))
	for name, cfg := range db.Properties {
		var ps PropertySchema
		if err := remarshal(cfg, &ps); err != nil {
			log.Debug("schema_drift", slog.String("database", string(db.ID)), slog.String("property", name), slog.String("reason", err.Error()))
		}
		ps.Name = name
		props[name] = ps
	}
	return Schema{ID: string(db.ID), Title: plainText(db.Title), Properties: props}
}

func decodeTask(p notionapi.Page, m Mapping) Task {
	t := Task{ID: string(p.ID), LastEdited: p.LastEditedTime}
	for _, prop := range p.Properties {
		if v, ok := concrete(prop).(notionapi.TitleProperty); ok {
			t.Title = plainText(v.Title)
			break
		}
	}
	if m.TaskStatus != "" {
		switch v := property(p, m.TaskStatus).(type) {
		case notionapi.StatusProperty:
			t.Status = v.Status.Name
		case notionapi.SelectProperty:
			t.Status = v.Select.Name
		case notionapi.CheckboxProperty:
			t.Status = fmt.Sprint(v.Checkbox)
		}
	}
	if m.TaskSessions != "" {
		if v, ok := property(p, m.TaskSessions).(notionapi.RelationProperty); ok {
			for _, ref := range v.Relation {
				t.SessionIDs = append(t.SessionIDs, string(ref.ID))
			}
		}
	}
	return t
}

func decodeSession(p notionapi.Page, m Mapping) Session {
	s := Session{ID: string(p.ID)}
	if m.SessionTask != "" {
		if v, ok := property(p, m.SessionTask).(notionapi.RelationProperty); ok && len(v.Relation) > 0 {
			s.TaskID = string(v.Relation[0].ID)
		}
	}
	s.Start = dateProperty(p, m.SessionStart)
	s.End = dateProperty(p, m.SessionEnd)
	return s
}

// property returns the named property as a concrete value, or nil.
func property(p notionapi.Page, name string) any {
	prop, ok := p.Properties[name]
	if !ok {
		log.Debug("schema_drift", slog.String("page", string(p.ID)), slog.String("property", name), slog.String("reason", "missing"))
		return nil
	}
	return concrete(prop)
}

// concrete strips the pointer the API decoder stores properties behind, so
// decoded and locally built properties switch the same way.
func concrete(prop notionapi.Property) any {
	if prop == nil {
		return nil
	}
	return reflect.Indirect(reflect.ValueOf(prop)).Interface()
}

func dateProperty(p notionapi.Page, name string) *time.Time {
	if name == "" {
		return nil
	}
	v, ok := property(p, name).(notionapi.DateProperty)
	if !ok || v.Date == nil || v.Date.Start == nil {
		return nil
	}
	t := time.Time(*v.Date.Start)
	return &t
}

func dateValue(t time.Time) *notionapi.DateProperty {
	d := notionapi.Date(t.UTC())
	return &notionapi.DateProperty{Date: &notionapi.DateObject{Start: &d}}
}

func plainText(parts []notionapi.RichText) string {
	var b strings.Builder
	for _, part := range parts {
		b.WriteString(part.PlainText)
	}
	return b.String()
}
