// Package userlevel detects how much mechanical knowledge the user has
// and adapts assistant replies to it: framing text per level and, for
// novices, inline explanations of technical jargon.
package userlevel

import (
	"regexp"
	"strings"

	"github.com/autologic-mx/obi2/engine/domain"
)

// DefaultLevel is assumed until the conversation says otherwise.
const DefaultLevel = domain.LevelIntermediate

var levelCues = []struct {
	level domain.UserLevel
	cues  []string
}{
	{domain.LevelNovice, []string{"nada", "no sé", "novato", "principiante", "básico"}},
	{domain.LevelIntermediate, []string{"poco", "intermedio", "aprendiendo", "algo sé", "conozco algo"}},
	{domain.LevelExpert, []string{"sé bastante", "experto", "ya sé", "avanzado", "conocimiento técnico"}},
}

// Classify inspects a message for knowledge-level cues. The second return
// is false when the message says nothing about the user's level; callers
// keep whatever level the session already has.
func Classify(message string) (domain.UserLevel, bool) {
	lower := strings.ToLower(message)
	for _, lc := range levelCues {
		for _, cue := range lc.cues {
			if strings.Contains(lower, cue) {
				return lc.level, true
			}
		}
	}
	return "", false
}

// Notice builds the confirmation message sent when the session switches
// to a newly detected level.
func Notice(level domain.UserLevel) string {
	var detail string
	switch level {
	case domain.LevelNovice:
		detail = "¡No te preocupes! Explicaré todo de forma sencilla y paso a paso."
	case domain.LevelExpert:
		detail = "Excelente, usaré lenguaje técnico avanzado sin explicaciones básicas."
	default:
		detail = "Perfecto, utilizaré términos técnicos pero con explicaciones claras."
	}
	return "Entendido, adaptaré mis respuestas a tu nivel de conocimiento: **" + string(level) + "**.\n\n" + detail
}

// Term is a jargon entry expanded inline for novice users.
type Term struct {
	Term        string
	Explanation string

	re *regexp.Regexp
}

// DefaultGlossary covers the jargon that shows up in provider diagnoses.
func DefaultGlossary() []Term {
	return []Term{
		{Term: "OBD", Explanation: "sistema de diagnóstico del vehículo"},
		{Term: "ECU", Explanation: "computadora del vehículo"},
		{Term: "sensor MAP", Explanation: "sensor que mide la presión del aire"},
		{Term: "sensor MAF", Explanation: "sensor que mide el flujo de aire"},
		{Term: "inyector", Explanation: "dispositivo que introduce combustible al motor"},
		{Term: "sonda lambda", Explanation: "sensor de oxígeno"},
		{Term: "catalizador", Explanation: "dispositivo que reduce contaminantes"},
		{Term: "relación estequiométrica", Explanation: "mezcla ideal de aire y combustible"},
		{Term: "mezcla rica", Explanation: "exceso de combustible"},
		{Term: "mezcla pobre", Explanation: "falta de combustible"},
		{Term: "válvula EGR", Explanation: "válvula que reduce emisiones"},
		{Term: "códigos DTC", Explanation: "códigos de error"},
		{Term: "turbocompresor", Explanation: "dispositivo que aumenta la potencia del motor"},
		{Term: "sistema EVAP", Explanation: "sistema que controla los vapores de combustible"},
	}
}

// Adapter rewrites assistant replies for a knowledge level.
type Adapter struct {
	glossary []Term
}

// NewAdapter builds an adapter with the given glossary. A nil glossary
// uses DefaultGlossary.
func NewAdapter(glossary []Term) *Adapter {
	if glossary == nil {
		glossary = DefaultGlossary()
	}
	for i := range glossary {
		glossary[i].re = regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(glossary[i].Term) + `\b`)
	}
	return &Adapter{glossary: glossary}
}

// Rewrite frames the reply for the level. Novice replies additionally get
// every glossary term expanded as "term (explanation)".
func (a *Adapter) Rewrite(level domain.UserLevel, reply string) string {
	body := reply
	var prefix, suffix string

	switch level {
	case domain.LevelNovice:
		for _, t := range a.glossary {
			body = t.re.ReplaceAllString(body, t.Term+" ("+t.Explanation+")")
		}
		prefix = "🛠️ **OBi-2 dice:** ¡Tranquilo! Estoy aquí para ayudarte paso a paso.\n\n"
		suffix = "\n\n¿Hay algo más que quieras saber? Puedes preguntarme cualquier duda. 😊"
	case domain.LevelExpert:
		prefix = "🛠️ **OBi-2 dice:** Basado en los datos técnicos:\n\n"
		suffix = "\n\n¿Requieres información adicional sobre especificaciones o procedimientos?"
	default:
		prefix = "🛠️ **OBi-2 dice:** Perfecto, aquí tienes la información que necesitas.\n\n"
		suffix = "\n\n¿Necesitas que profundice en algún aspecto? Estoy para ayudarte."
	}
	return prefix + body + suffix
}

// FrameQuickReply wraps a quick-reply answer with its own, shorter framing.
func FrameQuickReply(level domain.UserLevel, reply string) string {
	switch level {
	case domain.LevelNovice:
		return "🛠️ **OBi-2 dice:** ¡Tranquilo! Estamos frente a un problema común.\n\n" + reply + "\n\n¿Hay algo más que quieras saber? 😊"
	case domain.LevelExpert:
		return "🛠️ **OBi-2 dice:** Analizando el problema reportado:\n\n" + reply + "\n\n¿Requieres detalles adicionales sobre componentes específicos?"
	default:
		return "🛠️ **OBi-2 dice:** Veamos este problema con detalle.\n\n" + reply + "\n\n¿Necesitas que profundice en algún aspecto?"
	}
}
