package observer

import "os"

func osReadlink(path string) (string, error) {
	return os.Readlink(path)
}

func osIsSymlink(path string) (bool, error) {
	fi, err := os.Lstat(path)
	if err != nil {
		return false, err
	}
	return fi.Mode()&os.ModeSymlink != 0, nil
}

func osGetwd() (string, error) {
	return os.Getwd()
}
