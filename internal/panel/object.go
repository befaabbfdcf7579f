package panel

import (
	"fmt"

	"github.com/go-faster/jx"
	"github.com/goccy/go-json"
)

// Object is a JSON object that keeps key order and the exact bytes of every
// value it was decoded from. Only values replaced through Set* are re-encoded.
type Object struct {
	keys   []string
	values map[string]jx.Raw
}

func NewObject() *Object {
	return &Object{values: make(map[string]jx.Raw)}
}

func ParseObject(data []byte) (*Object, error) {
	o := NewObject()
	d := jx.DecodeBytes(data)
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		raw, err := d.Raw()
		if err != nil {
			return err
		}
		o.Set(string(key), raw)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("decode object: %w", err)
	}
	return o, nil
}

func (o *Object) Keys() []string {
	return append([]string(nil), o.keys...)
}

func (o *Object) Has(key string) bool {
	_, ok := o.values[key]
	return ok
}

func (o *Object) Raw(key string) (jx.Raw, bool) {
	v, ok := o.values[key]
	return v, ok
}

// Set stores a copy of raw under key, appending the key if it is new.
func (o *Object) Set(key string, raw []byte) {
	if _, ok := o.values[key]; !ok {
		o.keys = append(o.keys, key)
	}
	o.values[key] = append(jx.Raw(nil), raw...)
}

func (o *Object) SetString(key, v string) {
	var e jx.Encoder
	e.Str(v)
	o.Set(key, e.Bytes())
}

func (o *Object) SetInt64(key string, v int64) {
	var e jx.Encoder
	e.Int64(v)
	o.Set(key, e.Bytes())
}

func (o *Object) SetBool(key string, v bool) {
	var e jx.Encoder
	e.Bool(v)
	o.Set(key, e.Bytes())
}

func (o *Object) Delete(key string) {
	if _, ok := o.values[key]; !ok {
		return
	}
	delete(o.values, key)
	for i, k := range o.keys {
		if k == key {
			o.keys = append(o.keys[:i], o.keys[i+1:]...)
			break
		}
	}
}

func (o *Object) String(key string) string {
	raw, ok := o.values[key]
	if !ok || raw.Type() != jx.String {
		return ""
	}
	s, err := jx.DecodeBytes(raw).Str()
	if err != nil {
		return ""
	}
	return s
}

func (o *Object) Int64(key string) int64 {
	raw, ok := o.values[key]
	if !ok || raw.Type() != jx.Number {
		return 0
	}
	n, err := jx.DecodeBytes(raw).Int64()
	if err != nil {
		return 0
	}
	return n
}

func (o *Object) Bool(key string) (bool, bool) {
	raw, ok := o.values[key]
	if !ok || raw.Type() != jx.Bool {
		return false, false
	}
	b, err := jx.DecodeBytes(raw).Bool()
	if err != nil {
		return false, false
	}
	return b, true
}

func (o *Object) Clone() *Object {
	c := NewObject()
	for _, k := range o.keys {
		c.Set(k, o.values[k])
	}
	return c
}

func (o *Object) MarshalJSON() ([]byte, error) {
	var e jx.Encoder
	e.ObjStart()
	for _, k := range o.keys {
		e.FieldStart(k)
		e.Raw(o.values[k])
	}
	e.ObjEnd()
	return e.Bytes(), nil
}

// Decode unmarshals the whole object into v.
func (o *Object) Decode(v any) error {
	data, err := o.MarshalJSON()
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// Settings is an inbound settings blob with its clients split out. Every key
// other than "clients" is carried through untouched.
type Settings struct {
	obj     *Object
	Clients []*Object
}

func ParseSettings(raw string) (*Settings, error) {
	if raw == "" {
		raw = "{}"
	}
	obj, err := ParseObject([]byte(raw))
	if err != nil {
		return nil, fmt.Errorf("parse settings: %w", err)
	}
	s := &Settings{obj: obj}
	clients, ok := obj.Raw("clients")
	if !ok || clients.Type() == jx.Null {
		return s, nil
	}
	d := jx.DecodeBytes(clients)
	err = d.Arr(func(d *jx.Decoder) error {
		item, err := d.Raw()
		if err != nil {
			return err
		}
		c, err := ParseObject(item)
		if err != nil {
			return err
		}
		s.Clients = append(s.Clients, c)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse settings clients: %w", err)
	}
	return s, nil
}

// Find returns the index of the client whose credential equals credential.
func (s *Settings) Find(p Protocol, credential string) (int, *Object) {
	key := p.CredentialKey()
	for i, c := range s.Clients {
		if c.String(key) == credential {
			return i, c
		}
	}
	return -1, nil
}

func (s *Settings) Remove(i int) {
	s.Clients = append(s.Clients[:i], s.Clients[i+1:]...)
}

func (s *Settings) Encode() (string, error) {
	out := s.obj.Clone()
	var e jx.Encoder
	e.ArrStart()
	for _, c := range s.Clients {
		b, err := c.MarshalJSON()
		if err != nil {
			return "", err
		}
		e.Raw(b)
	}
	e.ArrEnd()
	out.Set("clients", e.Bytes())
	b, err := out.MarshalJSON()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ClientsOnly encodes {"clients":[...]} with the given entries, the body the
// partial-update endpoints expect.
func ClientsOnly(clients ...*Object) (string, error) {
	s := &Settings{obj: NewObject(), Clients: clients}
	return s.Encode()
}

// DecodeClient reads a client entry into the typed view.
func DecodeClient(o *Object) (Client, error) {
	var c Client
	if err := o.Decode(&c); err != nil {
		return Client{}, fmt.Errorf("decode client: %w", err)
	}
	return c, nil
}
