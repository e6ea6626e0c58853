// Package tgui builds Telegram-formatted text.
//
// Callers compose a Doc of styled spans; HTML rendering escapes every span,
// so user data (names, URLs, brands) is safe under ParseMode="HTML". Plain
// rendering is used for logs and tests.
package tgui
