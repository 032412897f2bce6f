package intake

import "strings"

// Canned assistant replies stored in place of an assessment when the AI turn
// could not produce one.
const (
	NoticeUnavailable  = "We're having trouble analyzing your report right now. Please keep the animal in a quiet, dark, warm place and try again in a few minutes."
	NoticeUnparsed     = "We received a response but couldn't parse it. Please try describing the animal's condition again."
	NoticeUnvalidated  = "We couldn't validate the response we received. Please try again or contact a local wildlife rehabilitator."
	NoticeFailed       = "Something went wrong while analyzing your report. Please contact a local wildlife rehabilitator directly."
	NoticeTimedOut     = "This analysis took too long to complete. Please send your message again or contact a local wildlife rehabilitator."
	NoticeNoAssessment = "I'm sorry, I wasn't able to put together a clear assessment this time. " +
		"Please keep the animal in a covered box in a quiet, warm, dark place, do not give food or water, " +
		"and contact a local wildlife rehabilitator. You can also send another message with more detail."
)

var notices = map[string]struct{}{
	NoticeUnavailable:  {},
	NoticeUnparsed:     {},
	NoticeUnvalidated:  {},
	NoticeFailed:       {},
	NoticeTimedOut:     {},
	NoticeNoAssessment: {},
}

// IsNotice reports whether text is one of the canned replies rather than a
// real assessment. Whitespace differences are ignored.
func IsNotice(text string) bool {
	_, ok := notices[strings.Join(strings.Fields(text), " ")]
	return ok
}
