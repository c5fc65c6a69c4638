package rules

import (
	"regexp"

	"github.com/pkg/errors"
)

// Грамматика и так закрыта, но пользователю нужна понятная причина отказа,
// поэтому известные опасные конструкции ловим до разбора. Регистр не важен.
var dangerous = []struct {
	name string
	re   *regexp.Regexp
}{
	{"process execution", regexp.MustCompile(`(?i)\b(system|exec|spawn|fork|syscall|popen|Open3)\b|` + "`" + `|%x`)},
	{"io access", regexp.MustCompile(`(?i)\b(IO|File|FileUtils|Dir|Pathname|Kernel|STDIN|STDOUT|Marshal|YAML)\b|\bopen\s*\(\s*["']\|`)},
	{"reflection", regexp.MustCompile(`(?i)\b(send|__send__|public_send|instance_variable_get|instance_variable_set|define_method|method_missing|const_get|const_set|class_eval|instance_eval|module_eval|instance_exec|binding|method|include|extend)\b`)},
	{"code loading", regexp.MustCompile(`(?i)\b(eval|require|require_relative|load|autoload|lambda|proc)\b`)},
	{"control flow", regexp.MustCompile(`(?i)\b(raise|fail|throw)\b`)},
	{"database mutation", regexp.MustCompile(`(?i)\b(create|update|update_all|update_column|destroy|destroy_all|delete|delete_all|save|insert|insert_all|upsert|upsert_all|truncate|drop|alter|increment|decrement|toggle|touch)!?\b`)},
	{"network access", regexp.MustCompile(`(?i)\b(Net|HTTP|Socket|TCPSocket|UDPSocket|URI|Faraday|RestClient)\b|open-uri|::`)},
	{"global access", regexp.MustCompile(`(?i)\b(ENV|ObjectSpace|Thread|Mutex|Process|Signal|GC|exit|exit!|abort|at_exit|trap)\b|\$`)},
}

// Guard отклоняет текст, содержащий запрещенную конструкцию.
func Guard(src string) error {
	for _, d := range dangerous {
		if loc := d.re.FindStringIndex(src); loc != nil {
			return errors.Wrapf(ErrDangerousPattern, "%s: %q", d.name, src[loc[0]:loc[1]])
		}
	}
	return nil
}
