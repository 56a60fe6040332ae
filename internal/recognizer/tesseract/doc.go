// Package tesseract registers a Tesseract-backed recognition engine under the
// name "tesseract". The engine needs libtesseract and is compiled only with
// the tesseract build tag; without it the package registers nothing and the
// ocr_engine option must stay "template".
package tesseract
