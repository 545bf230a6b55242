package diagnose

import (
	"fmt"
	"strings"

	"github.com/autologic-mx/obi2/engine/domain"
)

// Fixed user-visible texts. The conversation runs in Spanish; these
// strings are part of the product voice and change only with product
// sign-off.
const (
	welcomeMessage = `¡Hola! Para poder brindarte un diagnóstico preciso, necesito conocer algunos datos básicos de tu vehículo. Por favor, indícame la marca, modelo y año de tu auto. Por ejemplo: "Tengo un Honda Civic 2018" o "Mi auto es un Volkswagen Jetta 2015".`

	askVehicleMessage = `Aún me faltan algunos datos de tu vehículo. Por favor indícame la marca, modelo y año de tu auto. Por ejemplo: "Honda Civic 2018".`

	errorMessage = "Lo siento, ha ocurrido un error al procesar tu solicitud. Por favor, intenta nuevamente."

	connectionErrorMessage = "Lo siento, ha ocurrido un error al comunicarse con el asistente. Por favor, verifica tu conexión e intenta nuevamente."

	storeURL    = "https://autologic.mx"
	whatsappURL = "https://wa.me/5215512345678"
)

// OBDSuggestion pairs a common trouble code with its plain description.
type OBDSuggestion struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

// commonOBDCodes are the quick suggestions offered while entering codes.
var commonOBDCodes = []OBDSuggestion{
	{"P0300", "Fallo de encendido aleatorio en múltiples cilindros"},
	{"P0171", "Mezcla demasiado pobre (banco 1)"},
	{"P0420", "Eficiencia del catalizador por debajo del umbral"},
	{"P0455", "Fuga grande detectada en el sistema EVAP"},
	{"P0401", "Flujo insuficiente en la válvula EGR"},
	{"P0303", "Fallo de encendido en el cilindro 3"},
}

// commonSymptoms seed the symptom picker in the UI.
var commonSymptoms = []string{
	"El motor tironea al acelerar",
	"Sale humo del escape",
	"Huele a gasolina dentro del auto",
	"El motor se calienta demasiado",
	"Los frenos rechinan al frenar",
	"El auto no arranca",
	"Vibración en el volante",
	"Ruido metálico en el motor",
}

// vehicleReadyMessage confirms the vehicle and asks for the complaint.
func vehicleReadyMessage(v domain.Vehicle) string {
	return fmt.Sprintf("¡Perfecto! Tengo registrado tu %s %s %d. Ahora cuéntame, ¿qué problema presenta tu auto? También puedes compartirme los códigos OBD si ya los tienes (por ejemplo: P0300).", v.Make, v.Model, v.Year)
}

// fastPathMessage synthesizes the local reply for a lexicon match.
func fastPathMessage(match domain.SymptomMatch) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Basado en tu descripción, parece que estás experimentando: **%s**.\n\n", match.Diagnosis)
	b.WriteString("**Refacciones recomendadas:**\n")
	for _, part := range match.Parts {
		fmt.Fprintf(&b, "• %s\n", part)
	}
	b.WriteString("\n¿Puedes proporcionar más detalles sobre el problema? Esto me ayudará a darte un diagnóstico más preciso.")
	return b.String()
}

var partsIntro = map[domain.UserLevel]string{
	domain.LevelNovice:       "¡Buenas noticias! Ya identifiqué lo que tu auto necesita.",
	domain.LevelIntermediate: "He identificado las refacciones que tu auto necesita.",
	domain.LevelExpert:       "Componentes identificados para la reparación:",
}

// partsMessage announces the extracted part categories after a provider
// diagnosis.
func partsMessage(level domain.UserLevel, parts []string) string {
	intro, ok := partsIntro[level]
	if !ok {
		intro = partsIntro[domain.LevelIntermediate]
	}
	var b strings.Builder
	b.WriteString(intro)
	b.WriteString("\n\n**Refacciones recomendadas para resolver tu problema:**\n")
	for _, part := range parts {
		fmt.Fprintf(&b, "• %s\n", part)
	}
	b.WriteString("\nVoy a buscar estas refacciones específicas en nuestro catálogo para que no tengas que preocuparte por la compatibilidad.")
	return b.String()
}

// productsMessage renders catalog matches grouped by category, markdown
// only, with an optional prefilled cart link at the end.
func productsMessage(products map[string][]domain.Product, order []string, cartLink string) string {
	var b strings.Builder
	b.WriteString("¡Encontré estas refacciones compatibles en nuestro catálogo!\n")
	for _, category := range order {
		matches := products[category]
		if len(matches) == 0 {
			continue
		}
		fmt.Fprintf(&b, "\n**%s:**\n", category)
		for _, p := range matches {
			fmt.Fprintf(&b, "• [%s](%s/products/%s) - $%s\n", p.Title, storeURL, p.Handle, p.Price)
		}
	}
	if cartLink != "" {
		fmt.Fprintf(&b, "\n[Agregar todas al carrito](%s)", cartLink)
	}
	return b.String()
}

// noMatchesMessage is the fallback when the catalog returned zero
// products across every category.
func noMatchesMessage(v domain.Vehicle) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Parece que las refacciones específicas para tu %s %s %d no están disponibles en línea en este momento.\n\n", v.Make, v.Model, v.Year)
	fmt.Fprintf(&b, "Te invito a visitar nuestra tienda en %s o escribirnos por WhatsApp (%s) para ayudarte a conseguirlas.", storeURL, whatsappURL)
	return b.String()
}

// degradedMessage is the fallback when the catalog lookup itself failed.
func degradedMessage(v domain.Vehicle) string {
	return fmt.Sprintf("Para conseguir las refacciones recomendadas para tu %s %s, te invito a visitar nuestra tienda en autologic.mx donde podrás encontrar todos nuestros productos.", v.Make, v.Model)
}

// hasAnyProduct reports whether at least one category matched.
func hasAnyProduct(products map[string][]domain.Product) bool {
	for _, matches := range products {
		if len(matches) > 0 {
			return true
		}
	}
	return false
}

// CodeSuggestions returns the common trouble codes offered in the UI.
func CodeSuggestions() []OBDSuggestion {
	out := make([]OBDSuggestion, len(commonOBDCodes))
	copy(out, commonOBDCodes)
	return out
}

// SymptomSuggestions returns the common symptom phrasings offered in
// the UI.
func SymptomSuggestions() []string {
	out := make([]string, len(commonSymptoms))
	copy(out, commonSymptoms)
	return out
}
