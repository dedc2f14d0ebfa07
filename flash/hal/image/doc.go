// Package image provides a flash driver backed by a raw image file.
//
// The file holds the flash contents byte for byte from offset 0. Erase
// fills a page with 0xFF and Program clears bits, so an image behaves like
// the NOR part it was dumped from. Open takes an advisory lock on the file
// so two processes cannot write the same image.
package image
