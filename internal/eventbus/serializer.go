package eventbus

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/davicafu/eventrelay/shared/events"
)

// Serializer agrupa las opciones de (de)serialización de eventos.
// Se construye una vez en la raíz de composición y se inyecta en cada componente que lo necesite.
type Serializer struct {
	indent string
	strict bool
}

type SerializerOption func(*Serializer)

// WithIndent fija la indentación usada por MarshalIndent (formato de almacenamiento).
func WithIndent(indent string) SerializerOption {
	return func(s *Serializer) { s.indent = indent }
}

// WithStrictDecoding rechaza campos desconocidos al deserializar.
func WithStrictDecoding() SerializerOption {
	return func(s *Serializer) { s.strict = true }
}

func NewSerializer(opts ...SerializerOption) *Serializer {
	s := &Serializer{indent: "  "}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Marshal produce el cuerpo compacto que viaja por el broker.
func (s *Serializer) Marshal(evt events.Event) ([]byte, error) {
	data, err := json.Marshal(evt)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", evt.EventName(), err)
	}
	return data, nil
}

// MarshalIndent produce el contenido legible que se guarda en el outbox.
func (s *Serializer) MarshalIndent(evt events.Event) ([]byte, error) {
	data, err := json.MarshalIndent(evt, "", s.indent)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", evt.EventName(), err)
	}
	return data, nil
}

// Unmarshal rellena dst (puntero) a partir de data. La coincidencia de nombres
// de campo no distingue mayúsculas, igual que encoding/json.
func (s *Serializer) Unmarshal(data []byte, dst events.Event) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	if s.strict {
		dec.DisallowUnknownFields()
	}
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("unmarshal %s: %w", dst.EventName(), err)
	}
	return nil
}
