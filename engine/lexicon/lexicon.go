// Package lexicon holds the symptom dictionary that powers the fast
// diagnosis path: common complaint keywords mapped to a canned diagnosis
// and the parts usually involved, plus the quick-reply answers for the
// situation buttons in the chat UI.
package lexicon

import (
	"strings"

	"github.com/autologic-mx/obi2/engine/domain"
)

type entry struct {
	keyword   string
	diagnosis string
	parts     []string
}

// entries is scanned in order and the first keyword found in the message
// wins, so more specific phrases ("olor a gasolina") must come before the
// generic words they contain ("gasolina").
var entries = []entry{
	{
		keyword:   "tironea",
		diagnosis: "Tirones o jalones al acelerar, posiblemente por problemas de inyección o encendido",
		parts:     []string{"Bujías", "Cables de encendido", "Bobinas de encendido", "Filtro de combustible", "Inyectores"},
	},
	{
		keyword:   "jalonea",
		diagnosis: "Tirones o jalones al acelerar, posiblemente por problemas de inyección o encendido",
		parts:     []string{"Bujías", "Cables de encendido", "Bobinas de encendido", "Filtro de combustible", "Inyectores"},
	},
	{
		keyword:   "humo",
		diagnosis: "Emisión de humo del escape, indica problemas de combustión",
		parts:     []string{"Sensor de oxígeno", "Válvulas", "Anillos de pistón", "Convertidor catalítico", "Sello de válvulas"},
	},
	{
		keyword:   "olor a gasolina",
		diagnosis: "Olor a combustible, posible fuga en el sistema de combustible",
		parts:     []string{"Mangueras de combustible", "Sellos de inyectores", "Regulador de presión", "O-rings del riel de inyección"},
	},
	{
		keyword:   "calentamiento",
		diagnosis: "Sobrecalentamiento del motor, problemas en el sistema de enfriamiento",
		parts:     []string{"Termostato", "Bomba de agua", "Radiador", "Ventilador de enfriamiento", "Mangueras de radiador"},
	},
	{
		keyword:   "frenos",
		diagnosis: "Problemas en el sistema de frenos, posible desgaste o falla hidráulica",
		parts:     []string{"Pastillas de freno", "Discos/Rotores", "Líquido de frenos", "Cilindro maestro", "Mangueras de freno"},
	},
	{
		keyword:   "dirección",
		diagnosis: "Problemas de dirección, posibles fallas en el sistema de dirección asistida",
		parts:     []string{"Bomba de dirección hidráulica", "Líquido de dirección", "Terminales de dirección", "Cremallera de dirección"},
	},
	{
		keyword:   "ruido",
		diagnosis: "Ruidos anormales, pueden provenir de diversas partes del vehículo",
		parts:     []string{"Rodamientos", "Tensores", "Poleas", "Soportes de motor", "Amortiguadores"},
	},
	{
		keyword:   "vibración",
		diagnosis: "Vibraciones al conducir, posibles problemas de balanceo o suspensión",
		parts:     []string{"Baleros de rueda", "Amortiguadores", "Rótulas", "Terminales de dirección", "Llantas"},
	},
	{
		keyword:   "arranca",
		diagnosis: "Problemas para arrancar el vehículo, posibles fallas eléctricas o de combustible",
		parts:     []string{"Batería", "Alternador", "Motor de arranque", "Bomba de combustible", "Regulador de presión"},
	},
	{
		keyword:   "gasolina",
		diagnosis: "Alto consumo de combustible, posibles problemas en el sistema de inyección",
		parts:     []string{"Sensor MAF", "Sensor de oxígeno", "Inyectores", "Filtro de aire", "Válvula EGR"},
	},
	{
		keyword:   "luces",
		diagnosis: "Problemas con el sistema eléctrico o luces del vehículo",
		parts:     []string{"Focos", "Relevadores", "Fusibles", "Arnés eléctrico", "Interruptores"},
	},
}

// Match returns the first symptom entry whose keyword appears in the
// message. The reported parts slice is a copy the caller may modify.
func Match(message string) (domain.SymptomMatch, bool) {
	lower := strings.ToLower(message)
	for _, e := range entries {
		if strings.Contains(lower, e.keyword) {
			parts := make([]string, len(e.parts))
			copy(parts, e.parts)
			return domain.SymptomMatch{
				Keyword:   e.keyword,
				Diagnosis: e.diagnosis,
				Parts:     parts,
			}, true
		}
	}
	return domain.SymptomMatch{}, false
}

// Quick-reply situation codes.
const (
	SituationNoStart    = "no_arranca"
	SituationBurntSmell = "huele_quemado"
	SituationHesitation = "se_jalonea"
)

var quickReplies = map[string]map[domain.UserLevel]string{
	SituationNoStart: {
		domain.LevelNovice:       "Tranquilo. Lo primero es revisar la batería. ¿Notas si se encienden las luces del tablero?",
		domain.LevelIntermediate: "Podría ser batería, motor de arranque o alternador. ¿Hay clic al girar la llave?",
		domain.LevelExpert:       "Probablemente es un fallo en el circuito de encendido o señal al arranque. ¿Ya probaste con escáner?",
	},
	SituationBurntSmell: {
		domain.LevelNovice:       "Ese olor puede asustar, pero vamos a revisarlo juntos. A veces son frenos calientes.",
		domain.LevelIntermediate: "Puede ser freno forzado, embrague desgastado o cableado. ¿Qué más notas?",
		domain.LevelExpert:       "Revisar temperatura de frenos, clutch o carga en el alternador. ¿Hay pérdida de potencia?",
	},
	SituationHesitation: {
		domain.LevelNovice:       "Esto pasa cuando el motor no está recibiendo bien aire o gasolina. Vamos a revisar lo básico.",
		domain.LevelIntermediate: "Sensor MAF, bujías o inyectores sucios podrían ser la causa. ¿Último mantenimiento?",
		domain.LevelExpert:       "Mezcla pobre/rica por lectura errática. ¿Tienes códigos como P0171 o registros de presión?",
	},
}

// Situation is one chat quick-reply button: the code the button sends
// and the label shown to the user.
type Situation struct {
	Code  string `json:"code"`
	Label string `json:"label"`
}

// Situations lists the quick-reply buttons in display order.
func Situations() []Situation {
	return []Situation{
		{Code: SituationNoStart, Label: "Mi auto no arranca"},
		{Code: SituationBurntSmell, Label: "Huele a quemado"},
		{Code: SituationHesitation, Label: "Se jalonea al acelerar"},
	}
}

// QuickReply returns the canned answer for a situation button code at the
// given knowledge level. Unknown codes report false.
func QuickReply(code string, level domain.UserLevel) (string, bool) {
	byLevel, ok := quickReplies[code]
	if !ok {
		return "", false
	}
	if text, ok := byLevel[level]; ok {
		return text, true
	}
	return byLevel[domain.LevelNovice], true
}
