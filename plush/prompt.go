package plush

import "strings"

// basePlushPrompt instructs the model to produce a photographed physical toy
// rather than a filter or illustration. Style descriptors are appended to it.
const basePlushPrompt = "Transform the subject into a high-quality plush toy doll. " +
	"The result must look like a REAL physical stuffed plush toy professionally photographed, NOT a filter, NOT a cartoon illustration, NOT digital art. " +
	"Requirements: " +
	"- Soft fuzzy faux fur fabric with visible texture and fibers " +
	"- Visible stitching seams and hand-crafted details " +
	"- Large shiny embroidered eyes (NOT painted, real embroidery thread) " +
	"- Small embroidered nose and mouth " +
	"- Plush squishy stuffed appearance with cotton stuffing " +
	"- Rounded cute toy proportions with slightly oversized head " +
	"- Studio product photography style with soft professional lighting " +
	"- Clean white or light gray background " +
	"- The image should look like a photo of an actual handmade plush toy you could hold in your hands, NOT a digital illustration or 3D render."

var stylePrompts = map[string]string{
	StyleClassicTeddy: "Classic teddy bear style with warm golden-brown fur, traditional black button eyes, floppy ears, soft rounded body, vintage charm, hand-stitched details.",
	StyleModernCute:   "Modern cute kawaii style with big sparkling embroidered eyes, pastel pink and cream colors, extra fluffy premium fur, tiny embroidered nose, sweet smile, rosy cheeks.",
	StyleCartoon:      "Cartoon style with exaggerated cute features, big head, small body, vibrant rainbow colors, expressive embroidered face, glossy shine on fur, toy-like aesthetic.",
	StyleRealistic:    "Realistic plush with detailed faux fur texture, lifelike proportions preserving original subject's features, natural color palette, high-quality artisan craftsmanship, visible fabric weave.",
	StyleMini:         "Mini pocket-sized plush, cute and tiny with small embroidered details, palm of your hand size (10cm), adorable chibi proportions, oversized head, tiny body.",
}

// buildPrompt assembles the full generation prompt for a style tag. The tag
// must already be validated.
func buildPrompt(style string) string {
	descriptor := stylePrompts[strings.TrimSpace(style)]
	if descriptor == "" {
		return basePlushPrompt
	}
	return basePlushPrompt + " " + descriptor
}
