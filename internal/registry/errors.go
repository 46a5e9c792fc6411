package registry

import "errors"

var (
	// ErrNotFound - шаблон, биом-пак или таблица POI отсутствуют
	ErrNotFound = errors.New("registry: document not found")
	// ErrConfigParse - документ не разбирается как JSON или нарушает схему
	ErrConfigParse = errors.New("registry: config parse error")
	// ErrNotLoaded - обращение к реестру до LoadAll
	ErrNotLoaded = errors.New("registry: not loaded, call LoadAll first")
)
