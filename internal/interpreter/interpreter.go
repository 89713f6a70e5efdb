// Package interpreter defines the remote semantic classifier contract.
//
// A classifier maps a raw utterance to one command of the closed vocabulary.
// It never fails the caller: missing credentials, transport errors and
// answers outside the vocabulary all resolve to message.Unrecognized.
// Macaria ships with two backends: OpenAI (Responses API) and Local
// (self-hosted OpenAI-compatible chat or Ollama).
package interpreter

import (
	"context"
	"strings"

	"github.com/nadzzz/macaria/internal/message"
)

// Classifier is the interface for remote semantic classification.
type Classifier interface {
	// Name returns the backend identifier (e.g., "openai", "local").
	Name() string

	// Classify resolves text to a vocabulary command. An empty credential
	// means no credential is available.
	Classify(ctx context.Context, text, credential string) message.Command

	// Close releases any resources held by the classifier.
	Close() error
}

// Instructions is the fixed system turn sent with every classification
// request. It enumerates the exact output vocabulary.
var Instructions = buildInstructions()

func buildInstructions() string {
	var sb strings.Builder
	sb.WriteString("Eres un intérprete de intención para un sistema de control por voz.\n")
	sb.WriteString("Tu misión es leer (o inferir desde una transcripción con errores) la intención del usuario y mapearla al comando de control MÁS ADECUADO.\n\n")
	sb.WriteString("Debes responder ÚNICAMENTE con EXACTAMENTE UNA de estas opciones (una sola línea y nada más):\n")
	for _, c := range message.Vocabulary() {
		sb.WriteString(string(c))
		sb.WriteString("\n")
	}
	sb.WriteString(`
Criterio general:
- Comprende el significado completo del mensaje, aunque sea una frase larga o rara.
- Reconoce sinónimos, expresiones equivalentes, modismos, y palabras parecidas por errores del micrófono.
- Maneja negaciones y “lo contrario de…”.
  Ejemplo: “haz lo contrario de ir hacia atrás” ⇒ avanzar.
- Si el usuario pide un giro con ángulo, elige 90° o 360° según corresponda.
- Si pide girar sin ángulo específico, usa “vuelta derecha” o “vuelta izquierda”.
- Si pide parar, pausar, frenar o inmovilizar, usa “detener”.
- Si el mensaje contiene varias acciones, elige la acción PRINCIPAL o la primera orden clara.
- Si no hay intención clara o no encaja con el set, responde “Orden no reconocida”.

Prohibido:
- No expliques nada.
- No uses comillas.
- No agregues texto extra.`)
	return sb.String()
}

// Accept trims a raw model answer and validates it against the vocabulary.
func Accept(raw string) message.Command {
	return message.Validate(strings.TrimSpace(raw))
}
