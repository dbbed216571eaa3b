package bot

// =============================================================================
// General messages
// =============================================================================

const (
	MsgWelcome = `
		Hi! Send me a photo of your food and I'll tell you what it is
		and how much energy, protein, carbohydrates and fat it has per 100g.`
	MsgHelp = `
		Send a photo (or an image file) of a single dish.
		I recognise 101 kinds of food, from apple pie to waffles.

		/start - introduction
		/help - this message`
	MsgStartPrompt    = "Send me a photo of your food to analyse it."
	MsgUnknownCommand = "Unknown command. Try /help."
)

// =============================================================================
// Analysis messages
// =============================================================================

const (
	MsgAnalysisResult = `
		%s (%.1f%% confidence)

		Nutrition %s:
		Calories: %s
		Protein: %s
		Carbohydrates: %s
		Fat: %s`
	MsgNutritionUnavailable = "Nutrition facts are not available for this food."
	MsgMoreInfo             = "More: %s"
	MsgDownloadFailed       = "Could not download the photo. Please try again."
	MsgImageTooLarge        = "That image is too large. Please send a smaller one."
	MsgNotAnImage           = "That file does not look like an image."
	MsgAnalysisFailed       = "Sorry, I could not analyse that photo."
)
