package fileurl

import (
	"os"
	"path/filepath"
)

// IsDir determines if the given path is a directory
// IsDir 判断所给路径是否为文件夹
func IsDir(path string) bool {
	s, err := os.Stat(path)
	if err != nil {
		return false
	}
	return s.IsDir()
}

// IsExist determines if the given path exists
// IsExist 判断所给路径是否存在
func IsExist(dst string) bool {
	_, err := os.Stat(dst)
	if err != nil {
		return os.IsExist(err)
	}
	return true
}

// CreatePath creates the parent directory of dst
// CreatePath 创建 dst 的上级目录
func CreatePath(dst string, perm os.FileMode) error {
	return os.MkdirAll(filepath.Dir(dst), perm)
}

// WriteIfAbsent writes content to dst when it does not exist yet, reports whether it wrote
// WriteIfAbsent 当 dst 不存在时写入内容，返回是否写入
func WriteIfAbsent(dst string, content []byte) (bool, error) {
	if IsExist(dst) {
		return false, nil
	}
	if err := CreatePath(dst, 0754); err != nil {
		return false, err
	}
	if err := os.WriteFile(dst, content, 0644); err != nil {
		return false, err
	}
	return true, nil
}
